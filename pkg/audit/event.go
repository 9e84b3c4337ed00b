// Package audit records security events with write-side deduplication.
// Every consequential decision on the turn path (locks, unlocks,
// enumeration trips, rate-limit rejections, verification failures,
// signature failures) produces exactly one persisted event per dedupe
// tuple and window, no matter how many turns repeat the condition.
// Persistence is fire-and-forget: a failed write is logged and counted,
// never surfaced to the caller.
package audit

import (
	"time"
)

// EventType identifies what happened
type EventType string

const (
	EventSessionLocked         EventType = "session_locked"
	EventSessionUnlocked       EventType = "session_unlocked"
	EventEnumerationBlocked    EventType = "enumeration_blocked"
	EventRateLimited           EventType = "rate_limited"
	EventVerificationFailed    EventType = "verification_failed"
	EventVerificationExhausted EventType = "verification_exhausted"
	EventSignatureInvalid      EventType = "signature_invalid"
	EventSoftRefusal           EventType = "soft_refusal"
	EventPIIDisclosed          EventType = "pii_disclosed"
)

// Severity grades an event for alerting
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is one recorded security decision
type SecurityEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Severity   Severity       `json:"severity"`
	TenantID   string         `json:"tenant_id"`
	SessionID  string         `json:"session_id,omitempty"`
	SubjectID  string         `json:"subject_id,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Method     string         `json:"method,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// dedupeKey is the tuple repeats are collapsed on. Session and subject
// are deliberately excluded: an attacker cycling sessions from one
// address against one endpoint is still one incident.
func (e SecurityEvent) dedupeKey() string {
	return string(e.Type) + "|" + e.IP + "|" + e.Endpoint + "|" + e.TenantID
}
