package session

import (
	"time"
)

// LockRegistry is the single authority on whether a session may proceed.
// Independent risk signals (abuse counter, enumeration guard) all land
// here, so the turn pipeline asks one question: locked or not.
type LockRegistry struct {
	store    *Store
	cooldown time.Duration
}

// NewLockRegistry creates a lock registry over the given store. cooldown
// is the minimum spacing between user-facing lock notices per session.
func NewLockRegistry(store *Store, cooldown time.Duration) *LockRegistry {
	return &LockRegistry{store: store, cooldown: cooldown}
}

// Lock marks the session locked with the given reason and returns true
// when this call performed the transition. Locking an already-locked
// session is a no-op: the original reason and timestamp survive, so the
// first signal to trip stays authoritative.
func (r *LockRegistry) Lock(id string, reason LockReason) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	s := r.store.getOrCreateLocked(id)
	if s.Locked {
		return false
	}
	s.Locked = true
	s.LockReason = reason
	s.LockedAt = time.Now()
	return true
}

// IsLocked reports whether the session is locked and why. An expired
// session is unlocked by definition: its state is gone.
func (r *LockRegistry) IsLocked(id string) (bool, LockReason) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	s := r.store.getLocked(id)
	if s == nil || !s.Locked {
		return false, ""
	}
	return true, s.LockReason
}

// ShouldNotify reports whether a generic lock notice should be sent now,
// and records the notice time when it says yes. Locked users get at most
// one notice per cooldown window; everything else from them is dropped
// silently.
func (r *LockRegistry) ShouldNotify(id string) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	s := r.store.getLocked(id)
	if s == nil || !s.Locked {
		return false
	}

	now := time.Now()
	if s.LastNoticeAt.IsZero() || now.Sub(s.LastNoticeAt) >= r.cooldown {
		s.LastNoticeAt = now
		return true
	}
	return false
}

// Unlock clears the lock plus the counters that tripped it, so the next
// profanity hit or lookup miss starts from zero. Admin-only path.
// Returns (found, wasLocked).
func (r *LockRegistry) Unlock(id string) (bool, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	s := r.store.getLocked(id)
	if s == nil {
		return false, false
	}

	wasLocked := s.Locked
	s.Locked = false
	s.LockReason = ""
	s.LockedAt = time.Time{}
	s.LastNoticeAt = time.Time{}
	s.Abuse.Events = nil
	s.EnumBlocked = false
	s.NotFoundTimes = nil
	return true, wasLocked
}
