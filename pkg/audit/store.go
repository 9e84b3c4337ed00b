package audit

import (
	"context"
	"sync"
)

// EventStore persists security events. Implementations must tolerate
// concurrent inserts, the recorder writes from multiple goroutines.
type EventStore interface {
	Insert(ctx context.Context, event SecurityEvent) error
}

// MemoryEventStore keeps events in memory. Used in tests and in
// single-node deployments running without Postgres.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []SecurityEvent
}

// NewMemoryEventStore creates an empty in-memory store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

// Insert implements EventStore
func (s *MemoryEventStore) Insert(_ context.Context, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded events in insertion order
func (s *MemoryEventStore) Events() []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

// CountByType returns how many events of the given type are stored
func (s *MemoryEventStore) CountByType(t EventType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

var _ EventStore = (*MemoryEventStore)(nil)
