package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRecorder(t *testing.T, store EventStore) *Recorder {
	t.Helper()
	r := NewRecorder(store,
		WithDedupeWindow(time.Minute),
		WithSweepInterval(time.Hour),
	)
	t.Cleanup(r.Close)
	return r
}

func lockEvent(ip string) SecurityEvent {
	return SecurityEvent{
		Type:     EventSessionLocked,
		Severity: SeverityHigh,
		TenantID: "acme",
		IP:       ip,
		Endpoint: "/webhook/turn",
		Method:   "POST",
		Details:  map[string]any{"reason": "abusive_language"},
	}
}

func TestMemoryEventStore(t *testing.T) {
	store := NewMemoryEventStore()

	if err := store.Insert(context.Background(), lockEvent("10.0.0.1")); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := store.Insert(context.Background(), SecurityEvent{Type: EventRateLimited}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	events := store.Events()
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2", len(events))
	}
	if store.CountByType(EventSessionLocked) != 1 {
		t.Errorf("CountByType(session_locked) = %d, want 1", store.CountByType(EventSessionLocked))
	}

	// returned slice is a copy
	events[0].TenantID = "mutated"
	if store.Events()[0].TenantID != "acme" {
		t.Error("Events() must return a copy")
	}
}

func TestRecorderPersistsFirstInstance(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	if !r.Record(lockEvent("10.0.0.1")) {
		t.Fatal("first instance should be accepted")
	}
	r.Close()

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("persisted %d events, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Error("event ID should be assigned")
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("event CreatedAt should be assigned")
	}
}

func TestRecorderDedupesWithinWindow(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	results := []bool{
		r.Record(lockEvent("10.0.0.1")),
		r.Record(lockEvent("10.0.0.1")),
		r.Record(lockEvent("10.0.0.1")),
	}
	r.Close()

	if !results[0] || results[1] || results[2] {
		t.Errorf("results = %v, want [true false false]", results)
	}
	if len(store.Events()) != 1 {
		t.Errorf("persisted %d events, want exactly 1 per tuple per window", len(store.Events()))
	}

	stats := r.Stats()
	if stats.Recorded != 1 || stats.Suppressed != 2 {
		t.Errorf("stats = %+v, want recorded 1 suppressed 2", stats)
	}
}

func TestRecorderDistinctTuplesAllPersist(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	r.Record(lockEvent("10.0.0.1"))
	r.Record(lockEvent("10.0.0.2")) // different ip
	other := lockEvent("10.0.0.1")
	other.Type = EventEnumerationBlocked // different type
	r.Record(other)
	tenant := lockEvent("10.0.0.1")
	tenant.TenantID = "globex" // different tenant
	r.Record(tenant)
	r.Close()

	if len(store.Events()) != 4 {
		t.Errorf("persisted %d events, want 4 distinct tuples", len(store.Events()))
	}
}

func TestRecorderWindowExpiry(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	event := lockEvent("10.0.0.1")
	r.Record(event)

	// age the tuple past the window
	r.mu.Lock()
	r.lastSeen[event.dedupeKey()] = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	if !r.Record(event) {
		t.Error("tuple past the window should persist again")
	}
	r.Close()

	if len(store.Events()) != 2 {
		t.Errorf("persisted %d events, want 2", len(store.Events()))
	}
}

func TestRecorderSweepEvictsStaleKeys(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	event := lockEvent("10.0.0.1")
	r.Record(event)

	r.mu.Lock()
	r.lastSeen[event.dedupeKey()] = time.Now().Add(-5 * time.Minute)
	r.mu.Unlock()

	r.sweep()

	if got := r.Stats().TrackedKeys; got != 0 {
		t.Errorf("tracked keys after sweep = %d, want 0", got)
	}
}

func TestRecorderConcurrentSameTuple(t *testing.T) {
	store := NewMemoryEventStore()
	r := newTestRecorder(t, store)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Record(lockEvent("10.0.0.1")) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	r.Close()

	if accepted.Load() != 1 {
		t.Errorf("accepted %d concurrent records, want exactly 1", accepted.Load())
	}
	if len(store.Events()) != 1 {
		t.Errorf("persisted %d events, want exactly 1", len(store.Events()))
	}
}

type failingStore struct {
	calls atomic.Int32
}

func (s *failingStore) Insert(context.Context, SecurityEvent) error {
	s.calls.Add(1)
	return errors.New("connection refused")
}

func TestRecorderWriteFailureIsInternal(t *testing.T) {
	store := &failingStore{}
	r := newTestRecorder(t, store)

	if !r.Record(lockEvent("10.0.0.1")) {
		t.Fatal("record should be accepted even when the store fails")
	}
	r.Close()

	if store.calls.Load() != 1 {
		t.Errorf("store calls = %d, want 1", store.calls.Load())
	}
	if got := r.Stats().WriteErrors; got != 1 {
		t.Errorf("write errors = %d, want 1", got)
	}
}
