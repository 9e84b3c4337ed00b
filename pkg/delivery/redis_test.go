package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:outbound:")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	key := testKey("msg-1")

	err := store.Save(context.Background(), key, OutboundRecord{Sent: true, ExternalID: "wamid.551"}, time.Hour)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec, err := store.Lookup(context.Background(), key)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !rec.Sent {
		t.Error("Expected sent=true")
	}
	if rec.ExternalID != "wamid.551" {
		t.Errorf("Expected external id wamid.551, got %q", rec.ExternalID)
	}
	if rec.ExpiresAt.IsZero() {
		t.Error("Expected expiry to be recorded")
	}
}

func TestRedisStoreMiss(t *testing.T) {
	store, _ := newTestRedisStore(t)

	if _, err := store.Lookup(context.Background(), testKey("never-seen")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing key, got %v", err)
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := testKey("msg-1")

	if err := store.Save(context.Background(), key, OutboundRecord{Sent: true, ExternalID: "x"}, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	want := "test:outbound:acme:whatsapp:+15550001111:msg-1"
	if !mr.Exists(want) {
		t.Errorf("Expected key %q in redis, have %v", want, mr.Keys())
	}
}

func TestRedisStoreTTLExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := testKey("msg-1")

	if err := store.Save(context.Background(), key, OutboundRecord{Sent: true, ExternalID: "x"}, time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Lookup(context.Background(), key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected expiry to evict the record, got %v", err)
	}
}

func TestRedisStoreClosed(t *testing.T) {
	store, _ := newTestRedisStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := store.Lookup(context.Background(), testKey("msg-1")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from Lookup, got %v", err)
	}
	if err := store.Save(context.Background(), testKey("msg-1"), OutboundRecord{}, time.Hour); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Expected ErrStoreClosed from Save, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	store, mr := newTestRedisStore(t)
	key := testKey("msg-1")

	if err := mr.Set("test:outbound:"+key.String(), "not json"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	if _, err := store.Lookup(context.Background(), key); err == nil {
		t.Error("Expected error for corrupt record")
	}
}

func TestNewRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Error("Expected error for empty addr")
	}
}

func TestSenderOverRedisStore(t *testing.T) {
	store, _ := newTestRedisStore(t)
	d := &fakeDeliverer{}
	s := NewSender(store, d)

	first, err := s.Send(context.Background(), testKey("msg-1"), testPayload())
	if err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	second, err := s.Send(context.Background(), testKey("msg-1"), testPayload())
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}

	if !first.Sent || second.Sent {
		t.Errorf("Expected one delivery, got first=%+v second=%+v", first, second)
	}
	if !second.Duplicate || second.ExternalID != first.ExternalID {
		t.Errorf("Redelivery should return the original id, got %+v vs %+v", second, first)
	}
	if got := d.callCount(); got != 1 {
		t.Errorf("Deliverer called %d times, want 1", got)
	}
}
