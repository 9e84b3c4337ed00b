package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ============================================================================
// REDIS STORE - outbound dedupe shared across gateway instances
// ============================================================================

const defaultRedisPrefix = "rampart:outbound:"

// RedisConfig holds connection settings for the Redis outbound store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	PoolSize int
}

// RedisStore persists outbound records in Redis so that dedupe survives
// restarts and is shared when several gateways sit behind one webhook URL
type RedisStore struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: cfg.Prefix,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client, useful for testing
// with miniredis
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(k DedupeKey) string {
	return s.prefix + k.String()
}

// Lookup fetches the record for key, mapping a Redis miss to ErrNotFound
func (s *RedisStore) Lookup(ctx context.Context, key DedupeKey) (OutboundRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return OutboundRecord{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OutboundRecord{}, ErrNotFound
		}
		return OutboundRecord{}, fmt.Errorf("redis get failed: %w", err)
	}

	var rec OutboundRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return OutboundRecord{}, fmt.Errorf("corrupt outbound record for %s: %w", key.String(), err)
	}
	return rec, nil
}

// Save stores the record under key. The ttl doubles as the Redis key
// expiry, so eviction needs no sweep of our own.
func (s *RedisStore) Save(ctx context.Context, key DedupeKey, record OutboundRecord, ttl time.Duration) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	if ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal outbound record: %w", err)
	}

	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close marks the store closed and releases the client
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ OutboundStore = (*RedisStore)(nil)
