package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/TryMightyAI/rampart/pkg/httputil"
)

// ============================================================================
// SENDER - at-most-once outbound delivery
// ============================================================================

const (
	// defaultRetention must outlive the longest upstream retry schedule,
	// most channel providers give up within 24h so 72h leaves slack
	defaultRetention = 72 * time.Hour

	defaultSendRate    = 10
	defaultSendBurst   = 20
	defaultMaxInflight = 64
)

// Deliverer performs the actual channel delivery and returns the
// provider's message id
type Deliverer interface {
	Deliver(ctx context.Context, payload OutboundPayload) (externalID string, err error)
}

// OutboundPayload is the reply handed to a Deliverer
type OutboundPayload struct {
	TenantID    string   `json:"tenant_id"`
	Channel     string   `json:"channel"`
	RecipientID string   `json:"recipient_id"`
	Text        string   `json:"text"`
	Warnings    []string `json:"warnings,omitempty"`
}

// SendResult reports what happened to one send request
type SendResult struct {
	Sent       bool   `json:"sent"`
	ExternalID string `json:"external_id"`
	Duplicate  bool   `json:"duplicate"`
}

// Sender deduplicates outbound replies against an OutboundStore before
// handing them to a Deliverer. Concurrent sends for the same key are
// collapsed in process, and the dedupe record catches redeliveries that
// arrive after the first reply finished.
type Sender struct {
	store     OutboundStore
	deliverer Deliverer
	retention time.Duration

	limiter *rate.Limiter
	sem     *httputil.Semaphore

	mu       sync.Mutex
	inflight map[string]chan struct{}

	sent       atomic.Int64
	duplicates atomic.Int64
	failures   atomic.Int64
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithRetention sets how long dedupe records are kept
func WithRetention(d time.Duration) SenderOption {
	return func(s *Sender) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSendRate paces deliveries to perSecond with the given burst
func WithSendRate(perSecond float64, burst int) SenderOption {
	return func(s *Sender) {
		if perSecond > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithMaxInflight caps concurrent deliveries
func WithMaxInflight(n int) SenderOption {
	return func(s *Sender) {
		if n > 0 {
			s.sem = httputil.NewSemaphore(n)
		}
	}
}

// NewSender creates a Sender over the given store and deliverer
func NewSender(store OutboundStore, deliverer Deliverer, opts ...SenderOption) *Sender {
	s := &Sender{
		store:     store,
		deliverer: deliverer,
		retention: defaultRetention,
		limiter:   rate.NewLimiter(rate.Limit(defaultSendRate), defaultSendBurst),
		sem:       httputil.NewSemaphore(defaultMaxInflight),
		inflight:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers payload at most once per key. A hit in the dedupe store
// returns immediately with the external id of the original send and no
// network call. Otherwise the payload is delivered and the record is
// persisted for the retention window.
func (s *Sender) Send(ctx context.Context, key DedupeKey, payload OutboundPayload) (SendResult, error) {
	release, err := s.lockKey(ctx, key.String())
	if err != nil {
		return SendResult{}, err
	}
	defer release()

	rec, err := s.store.Lookup(ctx, key)
	if err == nil {
		s.duplicates.Add(1)
		return SendResult{Sent: false, ExternalID: rec.ExternalID, Duplicate: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		// A broken dedupe store must not block replies, the worst case
		// is one resend inside the retry horizon
		log.Printf("[WARN] Outbound dedupe lookup failed for %s, proceeding with send: %v", key.String(), err)
	}

	if err := s.sem.Acquire(ctx); err != nil {
		return SendResult{}, fmt.Errorf("send capacity: %w", err)
	}
	defer s.sem.Release()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return SendResult{}, fmt.Errorf("send pacing: %w", err)
		}
	}

	externalID, err := s.deliverer.Deliver(ctx, payload)
	if err != nil {
		s.failures.Add(1)
		return SendResult{}, fmt.Errorf("delivery failed: %w", err)
	}
	s.sent.Add(1)

	record := OutboundRecord{Sent: true, ExternalID: externalID}
	if err := s.store.Save(ctx, key, record, s.retention); err != nil {
		log.Printf("[WARN] Failed to persist outbound record for %s: %v", key.String(), err)
	}

	return SendResult{Sent: true, ExternalID: externalID, Duplicate: false}, nil
}

// Delivered reports whether a reply for key already went out, returning
// the original send result when it did. Lets callers short-circuit a
// redelivered inbound turn before mutating any session state.
func (s *Sender) Delivered(ctx context.Context, key DedupeKey) (SendResult, bool) {
	rec, err := s.store.Lookup(ctx, key)
	if err != nil {
		return SendResult{}, false
	}
	return SendResult{ExternalID: rec.ExternalID, Duplicate: true}, true
}

// lockKey serializes sends that share a dedupe key so a redelivery that
// races the original finds the record instead of delivering twice
func (s *Sender) lockKey(ctx context.Context, key string) (func(), error) {
	for {
		s.mu.Lock()
		ch, held := s.inflight[key]
		if !held {
			done := make(chan struct{})
			s.inflight[key] = done
			s.mu.Unlock()
			return func() {
				s.mu.Lock()
				delete(s.inflight, key)
				s.mu.Unlock()
				close(done)
			}, nil
		}
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SenderStats is a snapshot of delivery counters
type SenderStats struct {
	Sent       int64 `json:"sent"`
	Duplicates int64 `json:"duplicates"`
	Failures   int64 `json:"failures"`
}

// Stats returns current delivery counters
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Sent:       s.sent.Load(),
		Duplicates: s.duplicates.Load(),
		Failures:   s.failures.Load(),
	}
}
