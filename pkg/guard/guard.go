package guard

import (
	"context"
	"log"
	"time"

	"github.com/TryMightyAI/rampart/pkg/audit"
	"github.com/TryMightyAI/rampart/pkg/delivery"
	"github.com/TryMightyAI/rampart/pkg/ratelimit"
	"github.com/TryMightyAI/rampart/pkg/risk"
	"github.com/TryMightyAI/rampart/pkg/session"
	"github.com/TryMightyAI/rampart/pkg/telemetry"
)

// ============================================================================
// TURN PIPELINE
// ============================================================================
// Order per turn: rate gate, redelivery check, session touch, lock
// short-circuit, risk classification, verification routing. Everything
// that must stop a turn happens before the orchestrator sees it; audit
// and telemetry writes never block or fail a turn.

const defaultSlotMaxWords = 4

// Components are the collaborators a Guard composes. Telemetry is
// optional; Notices and Signature get working defaults when nil.
type Components struct {
	Deriver   *session.Deriver
	Store     *session.Store
	Locks     *session.LockRegistry
	Enum      *session.EnumerationGuard
	Verify    *session.Machine
	Limits    *ratelimit.Registry
	Detector  *risk.RiskDetector
	Recorder  *audit.Recorder
	Sender    *delivery.Sender
	Signature *SignatureVerifier
	Notices   *Notices
	Telemetry *telemetry.Client
}

// RequestMeta is transport metadata for audit events that fire before a
// turn is parsed, or outside a turn entirely (admin calls)
type RequestMeta struct {
	TenantID  string
	IP        string
	UserAgent string
	Endpoint  string
	Method    string
}

// Guard is the turn pipeline
type Guard struct {
	deriver   *session.Deriver
	store     *session.Store
	locks     *session.LockRegistry
	enum      *session.EnumerationGuard
	verify    *session.Machine
	limits    *ratelimit.Registry
	detector  *risk.RiskDetector
	recorder  *audit.Recorder
	sender    *delivery.Sender
	signature *SignatureVerifier
	notices   *Notices
	telemetry *telemetry.Client

	slotMaxWords    int
	defaultLanguage string
}

// Option configures a Guard
type Option func(*Guard)

// WithSlotMaxWords sets the word-count ceiling under which pending-slot
// input is treated as a slot answer
func WithSlotMaxWords(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.slotMaxWords = n
		}
	}
}

// WithDefaultLanguage sets the notice language for turns without a hint
func WithDefaultLanguage(lang string) Option {
	return func(g *Guard) {
		if lang != "" {
			g.defaultLanguage = normalizeLang(lang)
		}
	}
}

// New creates a Guard over the given components
func New(c Components, opts ...Option) *Guard {
	g := &Guard{
		deriver:   c.Deriver,
		store:     c.Store,
		locks:     c.Locks,
		enum:      c.Enum,
		verify:    c.Verify,
		limits:    c.Limits,
		detector:  c.Detector,
		recorder:  c.Recorder,
		sender:    c.Sender,
		signature: c.Signature,
		notices:   c.Notices,
		telemetry: c.Telemetry,

		slotMaxWords:    defaultSlotMaxWords,
		defaultLanguage: "en",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notices == nil {
		g.notices = NewNotices(g.defaultLanguage)
	}
	if g.signature == nil {
		g.signature = NewSignatureVerifier("")
	}
	return g
}

// SessionID derives the canonical session id for a turn's identity.
// The optional SessionIDHint on the turn is never trusted for identity.
func (g *Guard) SessionID(turn InboundTurn) string {
	return g.deriver.SessionID(turn.TenantID, turn.Channel, turn.ExternalUserID)
}

// VerifyWebhook authenticates the raw inbound body before any pipeline
// component runs. A failed check emits a signature-failure event; the
// caller must answer 401, and no session state has been touched.
func (g *Guard) VerifyWebhook(body []byte, signatureHeader string, meta RequestMeta) bool {
	if g.signature.Verify(body, signatureHeader) {
		return true
	}

	g.report(audit.SecurityEvent{
		Type:       audit.EventSignatureInvalid,
		Severity:   audit.SeverityCritical,
		TenantID:   meta.TenantID,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Endpoint:   meta.Endpoint,
		Method:     meta.Method,
		StatusCode: 401,
	})
	return false
}

// HandleTurn runs the full pipeline for one inbound turn
func (g *Guard) HandleTurn(ctx context.Context, turn InboundTurn) TurnDecision {
	start := time.Now()
	decision := g.handleTurn(ctx, turn)
	telemetry.RecordTurn(turn.TenantID, string(decision.Outcome), time.Since(start))
	return decision
}

func (g *Guard) handleTurn(ctx context.Context, turn InboundTurn) TurnDecision {
	if err := turn.validate(); err != nil {
		return TurnDecision{Outcome: OutcomeInvalid, StatusCode: 400, Reason: err.Error()}
	}

	lang := normalizeLang(turn.Language)
	if lang == "" {
		lang = g.defaultLanguage
	}
	sessionID := g.SessionID(turn)

	if d := g.rateGate(turn, sessionID); d != nil {
		return *d
	}

	// A redelivered turn that already produced a reply is acked with the
	// original external id; nothing re-runs and no session state moves
	if res, ok := g.sender.Delivered(ctx, turn.dedupeKey()); ok {
		return TurnDecision{
			Outcome:    OutcomeDuplicate,
			SessionID:  sessionID,
			StatusCode: 200,
			ExternalID: res.ExternalID,
		}
	}

	g.store.Touch(sessionID, turn.TenantID, turn.Channel, turn.ExternalUserID)

	if locked, reason := g.locks.IsLocked(sessionID); locked {
		return g.lockedTurn(ctx, turn, sessionID, lang, reason)
	}

	cls := g.detector.Classify(ctx, turn.Text, lang, sessionAbuse{store: g.store, id: sessionID})
	if cls.ShouldLock() {
		return g.lockForAbuse(ctx, turn, sessionID, lang, cls)
	}
	if cls.SoftRefusal() {
		return g.refuseTurn(ctx, turn, sessionID, lang, cls)
	}
	warnings := g.adviseOnWarnings(turn, sessionID, lang, cls)

	// Verification routing: a pending slot wins over topic heuristics,
	// only free-form input abandons the flow
	vstate := g.verify.State(sessionID)
	slotCollected := false
	if vstate.Status == session.VerifyPending && vstate.PendingField != "" {
		if session.IsSlotShaped(turn.Text, g.slotMaxWords) {
			res := g.verify.CollectSlot(sessionID, vstate.PendingField, turn.Text)
			slotCollected = res.Accepted
		} else {
			g.verify.AbandonFlow(sessionID)
		}
		vstate = g.verify.State(sessionID)
	}

	return TurnDecision{
		Outcome:       OutcomeProceed,
		SessionID:     sessionID,
		StatusCode:    200,
		Warnings:      warnings,
		SlotCollected: slotCollected,
		Verification:  vstate,
	}
}

// rateGate applies the webhook limiter, keyed by client IP when the
// handler supplied one and by session identity otherwise
func (g *Guard) rateGate(turn InboundTurn, sessionID string) *TurnDecision {
	identifier := turn.IP
	if identifier == "" {
		identifier = sessionID
	}

	dec, err := g.limits.Allow(LimiterWebhook, identifier)
	if err != nil {
		// An unregistered limiter is a deployment bug, not a reason to
		// drop customer traffic
		log.Printf("[WARN] Rate gate unavailable: %v", err)
		return nil
	}
	if dec.Allowed {
		return nil
	}

	telemetry.RecordRateRejection(LimiterWebhook)
	g.report(audit.SecurityEvent{
		Type:       audit.EventRateLimited,
		Severity:   audit.SeverityLow,
		TenantID:   turn.TenantID,
		SessionID:  sessionID,
		IP:         turn.IP,
		UserAgent:  turn.UserAgent,
		Endpoint:   turn.Endpoint,
		Method:     turn.Method,
		StatusCode: 429,
		Details:    map[string]any{"limiter": LimiterWebhook, "reset_at": dec.ResetAt},
	})
	return &TurnDecision{
		Outcome:    OutcomeRateLimited,
		SessionID:  sessionID,
		StatusCode: 429,
		RetryAt:    dec.ResetAt,
	}
}

// lockedTurn handles a turn from an already-locked session: at most one
// generic notice per cool-down, everything else dropped silently. The
// webhook is still acked 200 so the channel does not retry the drop.
func (g *Guard) lockedTurn(ctx context.Context, turn InboundTurn, sessionID, lang string, reason session.LockReason) TurnDecision {
	d := TurnDecision{
		Outcome:    OutcomeLocked,
		SessionID:  sessionID,
		StatusCode: 200,
		Reason:     string(reason),
	}
	if !g.locks.ShouldNotify(sessionID) {
		return d
	}
	d.Reply = g.notices.Locked(lang)
	d.Notified = g.deliverNotice(ctx, turn, d.Reply)
	return d
}

// lockForAbuse performs the lock transition the risk verdict demands
func (g *Guard) lockForAbuse(ctx context.Context, turn InboundTurn, sessionID, lang string, cls risk.Classification) TurnDecision {
	if g.locks.Lock(sessionID, session.LockReasonAbuse) {
		g.report(audit.SecurityEvent{
			Type:       audit.EventSessionLocked,
			Severity:   audit.SeverityHigh,
			TenantID:   turn.TenantID,
			SessionID:  sessionID,
			IP:         turn.IP,
			UserAgent:  turn.UserAgent,
			Endpoint:   turn.Endpoint,
			Method:     turn.Method,
			StatusCode: 200,
			Details: map[string]any{
				"reason":            string(session.LockReasonAbuse),
				"abuse_half_points": cls.AbuseTotal,
				"trigger":           cls.Reason,
			},
		})
	}

	d := TurnDecision{
		Outcome:    OutcomeLocked,
		SessionID:  sessionID,
		StatusCode: 200,
		Reason:     cls.Reason,
	}
	if g.locks.ShouldNotify(sessionID) {
		d.Reply = g.notices.Locked(lang)
		d.Notified = g.deliverNotice(ctx, turn, d.Reply)
	}
	return d
}

// refuseTurn rejects one turn's content without touching the session
func (g *Guard) refuseTurn(ctx context.Context, turn InboundTurn, sessionID, lang string, cls risk.Classification) TurnDecision {
	patterns := make([]string, 0, len(cls.Findings))
	for _, f := range cls.Findings {
		patterns = append(patterns, f.Pattern)
	}
	g.report(audit.SecurityEvent{
		Type:       audit.EventSoftRefusal,
		Severity:   audit.SeverityMedium,
		TenantID:   turn.TenantID,
		SessionID:  sessionID,
		IP:         turn.IP,
		UserAgent:  turn.UserAgent,
		Endpoint:   turn.Endpoint,
		Method:     turn.Method,
		StatusCode: 200,
		Details:    map[string]any{"patterns": patterns, "trigger": cls.Reason},
	})

	reply := g.notices.Refusal(lang)
	return TurnDecision{
		Outcome:    OutcomeSoftRefusal,
		SessionID:  sessionID,
		StatusCode: 200,
		Reply:      reply,
		Notified:   g.deliverNotice(ctx, turn, reply),
		Reason:     cls.Reason,
	}
}

// adviseOnWarnings converts advisory findings into one localized
// advisory line and an audit event; warnings never block
func (g *Guard) adviseOnWarnings(turn InboundTurn, sessionID, lang string, cls risk.Classification) []string {
	if len(cls.Warnings) == 0 {
		return nil
	}

	kinds := make([]string, 0, len(cls.Warnings))
	for _, w := range cls.Warnings {
		kinds = append(kinds, w.Kind)
	}
	g.report(audit.SecurityEvent{
		Type:      audit.EventPIIDisclosed,
		Severity:  audit.SeverityMedium,
		TenantID:  turn.TenantID,
		SessionID: sessionID,
		IP:        turn.IP,
		UserAgent: turn.UserAgent,
		Endpoint:  turn.Endpoint,
		Method:    turn.Method,
		Details:   map[string]any{"kinds": kinds},
	})

	return []string{g.notices.PIIAdvisory(lang)}
}

// ============================================================================
// ORCHESTRATOR SURFACE
// ============================================================================
// Called by the external orchestrator and its tools after HandleTurn
// returned OutcomeProceed.

// RecordLookupMiss registers a failed record lookup from a verified-
// lookup tool. Crossing the enumeration threshold locks the session for
// good until an admin reset.
func (g *Guard) RecordLookupMiss(turn InboundTurn) session.EnumerationResult {
	sessionID := g.SessionID(turn)
	res := g.enum.RecordNotFound(sessionID)
	if res.Tripped {
		g.locks.Lock(sessionID, session.LockReasonEnumeration)
		g.report(audit.SecurityEvent{
			Type:      audit.EventEnumerationBlocked,
			Severity:  audit.SeverityHigh,
			TenantID:  turn.TenantID,
			SessionID: sessionID,
			IP:        turn.IP,
			UserAgent: turn.UserAgent,
			Endpoint:  turn.Endpoint,
			Method:    turn.Method,
			Details:   map[string]any{"not_found_count": res.Count},
		})
	}
	return res
}

// BeginVerification opens the identity flow for a turn's session,
// called by tools that need identity slots before releasing data
func (g *Guard) BeginVerification(turn InboundTurn) session.BeginResult {
	return g.verify.Begin(g.SessionID(turn))
}

// CollectSlot records one identity slot answer outside the normal
// pending-slot routing, for orchestrators that extract slot values from
// structured channel payloads
func (g *Guard) CollectSlot(turn InboundTurn, slotName, rawValue string) session.CollectResult {
	return g.verify.CollectSlot(g.SessionID(turn), slotName, rawValue)
}

// AttemptVerify runs one verification check against a candidate record.
// A failed attempt is audited; hitting the ceiling escalates the event
// and leaves the flow in its terminal failed state. The caller must
// surface only the generic denial.
func (g *Guard) AttemptVerify(turn InboundTurn, candidate session.CandidateRecord) session.VerifyResult {
	sessionID := g.SessionID(turn)
	before := g.verify.State(sessionID).Attempts
	res := g.verify.AttemptVerify(sessionID, candidate)

	if res.Attempts > before {
		ev := audit.SecurityEvent{
			Type:      audit.EventVerificationFailed,
			Severity:  audit.SeverityMedium,
			TenantID:  turn.TenantID,
			SessionID: sessionID,
			IP:        turn.IP,
			UserAgent: turn.UserAgent,
			Endpoint:  turn.Endpoint,
			Method:    turn.Method,
			Details:   map[string]any{"attempts": res.Attempts},
		}
		if res.Status == session.VerifyFailed {
			ev.Type = audit.EventVerificationExhausted
			ev.Severity = audit.SeverityHigh
		}
		g.report(ev)
	}
	return res
}

// VerificationState returns the turn session's verification state
func (g *Guard) VerificationState(turn InboundTurn) session.VerificationState {
	return g.verify.State(g.SessionID(turn))
}

// DenialNotice returns the generic verification denial for the turn's
// language. It never names the mismatched field.
func (g *Guard) DenialNotice(turn InboundTurn) string {
	lang := normalizeLang(turn.Language)
	if lang == "" {
		lang = g.defaultLanguage
	}
	return g.notices.VerifyDenied(lang)
}

// SendReply delivers the orchestrator's reply for turn at most once,
// attaching any advisory warnings from the turn decision
func (g *Guard) SendReply(ctx context.Context, turn InboundTurn, text string, warnings []string) (delivery.SendResult, error) {
	res, err := g.sender.Send(ctx, turn.dedupeKey(), delivery.OutboundPayload{
		TenantID:    turn.TenantID,
		Channel:     turn.Channel,
		RecipientID: turn.ExternalUserID,
		Text:        text,
		Warnings:    warnings,
	})
	if err != nil {
		telemetry.RecordOutboundSend(turn.Channel, "failed")
		return res, err
	}
	telemetry.RecordOutboundSend(turn.Channel, sendStatus(res))
	return res, nil
}

// ============================================================================
// ADMIN SURFACE
// ============================================================================

// Unlock clears a session's lock and the counters that tripped it.
// Returns (found, wasLocked). The unlock itself is audited.
func (g *Guard) Unlock(sessionID string, meta RequestMeta) (bool, bool) {
	snap, haveSnap := g.store.Snapshot(sessionID)
	found, wasLocked := g.locks.Unlock(sessionID)

	if wasLocked {
		tenantID := meta.TenantID
		if haveSnap && snap.TenantID != "" {
			tenantID = snap.TenantID
		}
		g.report(audit.SecurityEvent{
			Type:      audit.EventSessionUnlocked,
			Severity:  audit.SeverityInfo,
			TenantID:  tenantID,
			SessionID: sessionID,
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
			Endpoint:  meta.Endpoint,
			Method:    meta.Method,
			Details:   map[string]any{"previous_reason": string(snap.LockReason)},
		})
	}
	return found, wasLocked
}

// Snapshot returns the session's state for the admin surface
func (g *Guard) Snapshot(sessionID string) (session.Snapshot, bool) {
	return g.store.Snapshot(sessionID)
}

// ============================================================================
// INTERNAL
// ============================================================================

// sessionAbuse binds the risk detector's abuse tracking to one session
type sessionAbuse struct {
	store *session.Store
	id    string
}

func (a sessionAbuse) RecordAbuse(weight int) int {
	return a.store.RecordAbuse(a.id, weight)
}

// report writes one security event to the audit recorder and emits the
// matching telemetry record. Both paths are internal and can never fail
// the turn.
func (g *Guard) report(ev audit.SecurityEvent) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if g.recorder != nil {
		g.recorder.Record(ev)
	}
	if g.telemetry != nil {
		g.telemetry.Emit(telemetry.Record{
			Event:     string(ev.Type),
			Severity:  string(ev.Severity),
			TenantID:  ev.TenantID,
			SessionID: ev.SessionID,
			Props:     ev.Details,
		})
	}
}

// deliverNotice sends a guard-authored notice through the idempotent
// sender. Delivery failure is logged, never surfaced: the decision
// stands and the channel's retry will re-enter the pipeline cleanly.
func (g *Guard) deliverNotice(ctx context.Context, turn InboundTurn, text string) bool {
	res, err := g.sender.Send(ctx, turn.dedupeKey(), delivery.OutboundPayload{
		TenantID:    turn.TenantID,
		Channel:     turn.Channel,
		RecipientID: turn.ExternalUserID,
		Text:        text,
	})
	if err != nil {
		log.Printf("[WARN] Failed to deliver notice for message %s: %v", turn.InboundMessageID, err)
		return false
	}
	telemetry.RecordOutboundSend(turn.Channel, sendStatus(res))
	return res.Sent || res.Duplicate
}

func sendStatus(res delivery.SendResult) string {
	if res.Duplicate {
		return "duplicate"
	}
	return "sent"
}
