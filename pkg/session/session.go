// Package session holds the per-conversation state registries for the
// gateway: identity derivation, the session store, the lock registry, the
// verification state machine, and the enumeration guard. All registries
// share the store's single lock; critical sections are short.
package session

import (
	"time"
)

// LockReason identifies which signal tripped a session lock.
type LockReason string

const (
	LockReasonAbuse       LockReason = "abusive_language"
	LockReasonEnumeration LockReason = "enumeration"
)

// VerificationStatus is the identity-verification phase of a session.
type VerificationStatus string

const (
	VerifyNone     VerificationStatus = "none"
	VerifyPending  VerificationStatus = "pending"
	VerifyVerified VerificationStatus = "verified"
	VerifyFailed   VerificationStatus = "failed"
)

// VerificationState tracks one session's identity-verification flow.
// Attempts increments only on a completed verification check that fails.
type VerificationState struct {
	Status            VerificationStatus `json:"status"`
	CollectedSlots    map[string]string  `json:"collected_slots,omitempty"`
	PendingField      string             `json:"pending_field,omitempty"`
	Attempts          int                `json:"attempts"`
	VerifiedSubjectID string             `json:"verified_subject_id,omitempty"`
	ExpiresAt         time.Time          `json:"expires_at,omitempty"`
}

// AbuseEvent is one weighted contribution to the rolling abuse counter.
// Weights are half-point units: a profanity hit contributes 2, a soft
// refusal contributes the configured refusal weight.
type AbuseEvent struct {
	At     time.Time
	Weight int
}

// AbuseCounter is a trailing-window counter of weighted abuse events.
type AbuseCounter struct {
	Events []AbuseEvent
}

// Add prunes events older than window, records one, and returns the new
// trailing-window total in half-point units.
func (c *AbuseCounter) Add(now time.Time, weight int, window time.Duration) int {
	c.prune(now, window)
	c.Events = append(c.Events, AbuseEvent{At: now, Weight: weight})
	return c.total()
}

// Total returns the trailing-window total in half-point units.
func (c *AbuseCounter) Total(now time.Time, window time.Duration) int {
	c.prune(now, window)
	return c.total()
}

func (c *AbuseCounter) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := c.Events[:0]
	for _, e := range c.Events {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	c.Events = kept
}

func (c *AbuseCounter) total() int {
	sum := 0
	for _, e := range c.Events {
		sum += e.Weight
	}
	return sum
}

// Session is the in-memory state for one conversation. All fields are
// guarded by the owning Store's lock; callers outside this package see
// only snapshots.
type Session struct {
	ID             string
	TenantID       string
	Channel        string
	ExternalUserID string

	CreatedAt  time.Time
	LastSeenAt time.Time
	TurnCount  int

	Abuse AbuseCounter

	// Lock state. Re-locking a locked session is a no-op so the original
	// reason and timestamp survive.
	Locked       bool
	LockReason   LockReason
	LockedAt     time.Time
	LastNoticeAt time.Time

	Verification VerificationState

	// Enumeration tracking: recent not-found lookup times plus the
	// sticky blocked flag.
	NotFoundTimes []time.Time
	EnumBlocked   bool
}

// Snapshot is a read-only copy of session state for admin surfaces.
type Snapshot struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	Channel        string            `json:"channel"`
	ExternalUserID string            `json:"external_user_id"`
	CreatedAt      time.Time         `json:"created_at"`
	LastSeenAt     time.Time         `json:"last_seen_at"`
	TurnCount      int               `json:"turn_count"`
	Locked         bool              `json:"locked"`
	LockReason     LockReason        `json:"lock_reason,omitempty"`
	LockedAt       time.Time         `json:"locked_at,omitempty"`
	AbusePoints    int               `json:"abuse_half_points"`
	Verification   VerificationState `json:"verification"`
	EnumBlocked    bool              `json:"enumeration_blocked"`
	NotFoundCount  int               `json:"not_found_count"`
}

func (s *Session) snapshot(now time.Time, abuseWindow time.Duration) Snapshot {
	verification := s.Verification
	if verification.CollectedSlots != nil {
		slots := make(map[string]string, len(verification.CollectedSlots))
		for k, v := range verification.CollectedSlots {
			slots[k] = v
		}
		verification.CollectedSlots = slots
	}

	return Snapshot{
		ID:             s.ID,
		TenantID:       s.TenantID,
		Channel:        s.Channel,
		ExternalUserID: s.ExternalUserID,
		CreatedAt:      s.CreatedAt,
		LastSeenAt:     s.LastSeenAt,
		TurnCount:      s.TurnCount,
		Locked:         s.Locked,
		LockReason:     s.LockReason,
		LockedAt:       s.LockedAt,
		AbusePoints:    s.Abuse.Total(now, abuseWindow),
		Verification:   verification,
		EnumBlocked:    s.EnumBlocked,
		NotFoundCount:  len(s.NotFoundTimes),
	}
}
