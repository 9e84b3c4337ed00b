package session

import (
	"time"
)

// EnumerationGuard counts not-found lookups per session inside a sliding
// window. Repeated misses against a verified-lookup tool are how an
// attacker binary-searches valid record identifiers; capping them defeats
// that without any knowledge of lookup semantics.
type EnumerationGuard struct {
	store     *Store
	threshold int
	window    time.Duration
}

// EnumerationResult reports the state after recording one miss.
type EnumerationResult struct {
	Blocked bool // Sticky: stays true until an admin reset
	Count   int  // Misses inside the current window
	Tripped bool // True exactly once, on the call that crossed the threshold
}

// NewEnumerationGuard creates an enumeration guard over the given store.
func NewEnumerationGuard(store *Store, threshold int, window time.Duration) *EnumerationGuard {
	return &EnumerationGuard{store: store, threshold: threshold, window: window}
}

// RecordNotFound registers one failed record lookup and reports whether
// the session is now blocked. The blocked flag is sticky: once the
// threshold is crossed it survives window expiry and clears only on an
// admin reset or session expiry.
func (g *EnumerationGuard) RecordNotFound(id string) EnumerationResult {
	g.store.mu.Lock()
	defer g.store.mu.Unlock()

	s := g.store.getOrCreateLocked(id)
	now := time.Now()

	cutoff := now.Add(-g.window)
	kept := s.NotFoundTimes[:0]
	for _, t := range s.NotFoundTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.NotFoundTimes = append(kept, now)

	count := len(s.NotFoundTimes)
	if s.EnumBlocked {
		return EnumerationResult{Blocked: true, Count: count}
	}
	if count >= g.threshold {
		s.EnumBlocked = true
		return EnumerationResult{Blocked: true, Count: count, Tripped: true}
	}
	return EnumerationResult{Count: count}
}

// IsBlocked reports the sticky blocked flag without recording anything.
func (g *EnumerationGuard) IsBlocked(id string) bool {
	g.store.mu.RLock()
	defer g.store.mu.RUnlock()

	s := g.store.getLocked(id)
	return s != nil && s.EnumBlocked
}
