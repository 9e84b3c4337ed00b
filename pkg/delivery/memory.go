package delivery

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// MEMORY STORE - single process outbound dedupe
// ============================================================================

const defaultMemorySweepInterval = 10 * time.Minute

// MemoryStore keeps outbound records in a map. Records survive only as
// long as the process, so a restart inside the retry horizon can resend.
// Use the Redis store when that matters.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]OutboundRecord

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once
}

// MemoryStoreOption configures a MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithMemorySweepInterval sets how often expired records are evicted
func WithMemorySweepInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewMemoryStore creates a memory store and starts its sweep loop
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records:       make(map[string]OutboundRecord),
		sweepInterval: defaultMemorySweepInterval,
		stopSweep:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Lookup returns the record for key, or ErrNotFound. Expired records
// are treated as absent even if the sweep has not evicted them yet.
func (s *MemoryStore) Lookup(_ context.Context, key DedupeKey) (OutboundRecord, error) {
	s.mu.RLock()
	rec, ok := s.records[key.String()]
	s.mu.RUnlock()

	if !ok {
		return OutboundRecord{}, ErrNotFound
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return OutboundRecord{}, ErrNotFound
	}
	return rec, nil
}

// Save stores the record under key for ttl
func (s *MemoryStore) Save(_ context.Context, key DedupeKey, record OutboundRecord, ttl time.Duration) error {
	if ttl > 0 {
		record.ExpiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.records[key.String()] = record
	s.mu.Unlock()
	return nil
}

// Close stops the sweep loop
func (s *MemoryStore) Close() error {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
	return nil
}

// Len reports how many records are held, including expired ones the
// sweep has not reached
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, rec := range s.records {
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			delete(s.records, k)
		}
	}
}

var _ OutboundStore = (*MemoryStore)(nil)
