// Package guard runs the full decision pipeline for one inbound turn:
// rate gate, session lock short-circuit, risk classification,
// verification routing, audit, and deduplicated outbound delivery. It
// is the only package that sees a turn end to end; everything it
// composes lives in the leaf packages.
package guard

import (
	"errors"
	"time"

	"github.com/TryMightyAI/rampart/pkg/delivery"
	"github.com/TryMightyAI/rampart/pkg/session"
)

// Named limiters the gateway registers at startup
const (
	LimiterWebhook = "webhook"
	LimiterAPI     = "api"
	LimiterAuth    = "auth"
)

// InboundTurn is one end-user message as the channel webhook delivers
// it, plus the request metadata the audit trail wants. Channels retry
// with at-least-once semantics, so the same InboundMessageID can arrive
// more than once.
type InboundTurn struct {
	TenantID         string    `json:"tenant_id"`
	Channel          string    `json:"channel"`
	ExternalUserID   string    `json:"external_user_id"`
	SessionIDHint    string    `json:"session_id_hint,omitempty"`
	InboundMessageID string    `json:"inbound_message_id"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`

	// Language is the channel's language hint, empty means the
	// configured default
	Language string `json:"language,omitempty"`

	// Request metadata, filled by the HTTP handler
	IP        string `json:"-"`
	UserAgent string `json:"-"`
	Endpoint  string `json:"-"`
	Method    string `json:"-"`
}

func (t InboundTurn) validate() error {
	switch {
	case t.TenantID == "":
		return errors.New("missing tenant id")
	case t.Channel == "":
		return errors.New("missing channel")
	case t.ExternalUserID == "":
		return errors.New("missing external user id")
	case t.InboundMessageID == "":
		return errors.New("missing inbound message id")
	}
	return nil
}

// dedupeKey is the at-most-once delivery key for this turn's reply
func (t InboundTurn) dedupeKey() delivery.DedupeKey {
	return delivery.DedupeKey{
		TenantID:         t.TenantID,
		Channel:          t.Channel,
		RecipientID:      t.ExternalUserID,
		InboundMessageID: t.InboundMessageID,
	}
}

// Outcome is the pipeline's verdict for one turn
type Outcome string

const (
	// OutcomeProceed hands the turn to the orchestrator
	OutcomeProceed Outcome = "proceed"

	// OutcomeDuplicate means this turn was already fully processed, the
	// original reply's external id is returned and nothing re-runs
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeRateLimited rejects the request at the transport level
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeLocked drops the turn of a locked session, with at most
	// one generic notice per cool-down window
	OutcomeLocked Outcome = "locked"

	// OutcomeSoftRefusal rejects this turn's content, session stays open
	OutcomeSoftRefusal Outcome = "soft_refusal"

	// OutcomeInvalid rejects a turn with missing identity fields
	OutcomeInvalid Outcome = "invalid"
)

// TurnDecision is what the pipeline hands back to the HTTP handler.
// There is no error path: every failure mode is an outcome, and
// internal write failures never surface here.
type TurnDecision struct {
	Outcome    Outcome `json:"outcome"`
	SessionID  string  `json:"session_id,omitempty"`
	StatusCode int     `json:"status_code"`

	// Reply is the guard-authored generic notice for refused or locked
	// turns. Notified reports whether it actually went out; a locked
	// session inside its notice cool-down is dropped silently.
	Reply    string `json:"reply,omitempty"`
	Notified bool   `json:"notified,omitempty"`

	// ExternalID is the provider message id of the original reply when
	// the turn is a duplicate
	ExternalID string `json:"external_id,omitempty"`

	// RetryAt tells a rate-limited caller when the window resets
	RetryAt time.Time `json:"retry_at,omitempty"`

	// Warnings are advisory lines for the orchestrator to append to its
	// reply, never blocking
	Warnings []string `json:"warnings,omitempty"`

	// SlotCollected reports that this turn was consumed as an answer to
	// the pending verification slot
	SlotCollected bool `json:"slot_collected,omitempty"`

	// Verification is the session's verification state after this turn,
	// the orchestrator gates sensitive tools on it
	Verification session.VerificationState `json:"verification"`

	// Reason is internal detail for logs and tests, never user-facing
	Reason string `json:"reason,omitempty"`
}
