// Package delivery sends outbound replies at most once per inbound
// message. Upstream channels redeliver webhooks on their own retry
// schedule, so every send is keyed by (tenant, channel, recipient,
// inbound message id) and checked against a dedupe store before any
// network call happens.
package delivery

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no outbound record exists for the key
	ErrNotFound = errors.New("delivery: outbound record not found")

	// ErrStoreClosed means the store was closed while in use
	ErrStoreClosed = errors.New("delivery: store closed")
)

// DedupeKey identifies one logical outbound reply
type DedupeKey struct {
	TenantID         string
	Channel          string
	RecipientID      string
	InboundMessageID string
}

// String renders the key in the colon form used for store lookups
func (k DedupeKey) String() string {
	return k.TenantID + ":" + k.Channel + ":" + k.RecipientID + ":" + k.InboundMessageID
}

// OutboundRecord is the persisted proof that a reply went out
type OutboundRecord struct {
	Sent       bool      `json:"sent"`
	ExternalID string    `json:"external_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// OutboundStore persists outbound records for the dedupe lookup. The
// retention ttl must outlive the upstream webhook retry horizon, a
// record evicted too early reopens the duplicate window.
type OutboundStore interface {
	Lookup(ctx context.Context, key DedupeKey) (OutboundRecord, error)
	Save(ctx context.Context, key DedupeKey, record OutboundRecord, ttl time.Duration) error
	Close() error
}
