package session

import (
	"regexp"
	"strings"
	"time"
)

// Identity slot names used by verification flows.
const (
	SlotOrderNumber = "order_number"
	SlotEmail       = "email"
	SlotPostalCode  = "postal_code"
)

// Flow is an ordered sequence of identity slots a user must supply before
// a verification check can run.
type Flow struct {
	Name  string
	Slots []string
}

// OrderFlow verifies ownership of an order record.
var OrderFlow = Flow{
	Name:  "order",
	Slots: []string{SlotOrderNumber, SlotEmail, SlotPostalCode},
}

// Has reports whether the flow includes the named slot.
func (f Flow) Has(slotName string) bool {
	for _, s := range f.Slots {
		if s == slotName {
			return true
		}
	}
	return false
}

// CandidateRecord is the record a lookup tool proposes for verification.
// Fields are raw values from the record keyed by slot name; the machine
// normalizes them before comparing.
type CandidateRecord struct {
	SubjectID string
	Fields    map[string]string
}

// BeginResult reports the flow state after opening a verification flow.
type BeginResult struct {
	Status           VerificationStatus
	NextExpectedSlot string
}

// CollectResult reports the outcome of one slot answer.
type CollectResult struct {
	Accepted         bool
	NormalizedValue  string
	NextExpectedSlot string
}

// VerifyResult reports the outcome of one verification check.
type VerifyResult struct {
	Status   VerificationStatus
	Attempts int
}

// Machine drives per-session identity verification. Transitions:
// none -> pending -> {verified | failed}; failed -> pending reopens the
// flow with fresh attempts; verified -> none only happens when the
// session itself is reset.
type Machine struct {
	store   *Store
	flow    Flow
	ceiling int
	ttl     time.Duration
}

// NewMachine creates a verification machine over the given store. ceiling
// is the failed-check limit before the terminal failed state; ttl is how
// long an idle pending flow stays open.
func NewMachine(store *Store, flow Flow, ceiling int, ttl time.Duration) *Machine {
	return &Machine{store: store, flow: flow, ceiling: ceiling, ttl: ttl}
}

// Begin opens the verification flow for the session. Called by lookup
// tools that need identity slots before releasing sensitive data. On a
// verified session this starts a fresh flow for a new subject; the last
// verified subject is kept until the new check resolves.
func (m *Machine) Begin(id string) BeginResult {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s := m.store.getOrCreateLocked(id)
	m.expireStale(&s.Verification)

	m.openFlowLocked(&s.Verification)
	return BeginResult{
		Status:           s.Verification.Status,
		NextExpectedSlot: s.Verification.PendingField,
	}
}

// CollectSlot records one slot answer. Unknown slots and values that fail
// normalization are rejected without touching flow state. A slot answer
// arriving on a failed flow reopens it (the retry edge).
func (m *Machine) CollectSlot(id, slotName, rawValue string) CollectResult {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s := m.store.getOrCreateLocked(id)
	m.expireStale(&s.Verification)
	st := &s.Verification

	if st.Status == VerifyVerified {
		return CollectResult{Accepted: false}
	}
	if !m.flow.Has(slotName) {
		return CollectResult{Accepted: false, NextExpectedSlot: st.PendingField}
	}

	normalized, ok := NormalizeSlot(slotName, rawValue)
	if !ok {
		return CollectResult{Accepted: false, NextExpectedSlot: st.PendingField}
	}

	if st.Status == VerifyNone || st.Status == VerifyFailed {
		m.openFlowLocked(st)
	}

	if st.CollectedSlots == nil {
		st.CollectedSlots = make(map[string]string)
	}
	st.CollectedSlots[slotName] = normalized
	st.PendingField = m.nextExpected(st)
	st.ExpiresAt = time.Now().Add(m.ttl)

	return CollectResult{
		Accepted:         true,
		NormalizedValue:  normalized,
		NextExpectedSlot: st.PendingField,
	}
}

// AttemptVerify compares the collected slots against a candidate record.
// Attempts increments only when a completed check fails; an incomplete
// flow returns pending untouched. At the ceiling the flow transitions to
// failed and the caller must surface a generic denial that never names
// the mismatched field.
func (m *Machine) AttemptVerify(id string, candidate CandidateRecord) VerifyResult {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s := m.store.getOrCreateLocked(id)
	m.expireStale(&s.Verification)
	st := &s.Verification

	if st.Status != VerifyPending {
		return VerifyResult{Status: st.Status, Attempts: st.Attempts}
	}
	if st.PendingField != "" {
		// Check cannot complete until every slot is collected
		return VerifyResult{Status: st.Status, Attempts: st.Attempts}
	}

	if m.matches(st.CollectedSlots, candidate) {
		st.Status = VerifyVerified
		st.VerifiedSubjectID = candidate.SubjectID
		st.CollectedSlots = nil
		st.PendingField = ""
		st.ExpiresAt = time.Time{}
		return VerifyResult{Status: st.Status, Attempts: st.Attempts}
	}

	st.Attempts++
	if st.Attempts >= m.ceiling {
		st.Status = VerifyFailed
		st.CollectedSlots = nil
		st.PendingField = ""
		st.ExpiresAt = time.Time{}
	} else {
		st.ExpiresAt = time.Now().Add(m.ttl)
	}
	return VerifyResult{Status: st.Status, Attempts: st.Attempts}
}

// AbandonFlow clears an in-flight slot collection when the user switches
// topic. Verified status and the verified subject survive; only the
// abandoned flow's slots and pending field are dropped.
func (m *Machine) AbandonFlow(id string) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s := m.store.getLocked(id)
	if s == nil {
		return
	}
	st := &s.Verification

	if st.Status == VerifyPending {
		st.Status = VerifyNone
	}
	st.CollectedSlots = nil
	st.PendingField = ""
	st.ExpiresAt = time.Time{}
}

// State returns a copy of the session's verification state.
func (m *Machine) State(id string) VerificationState {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	s := m.store.getLocked(id)
	if s == nil {
		return VerificationState{Status: VerifyNone}
	}
	m.expireStale(&s.Verification)

	st := s.Verification
	if st.CollectedSlots != nil {
		slots := make(map[string]string, len(st.CollectedSlots))
		for k, v := range st.CollectedSlots {
			slots[k] = v
		}
		st.CollectedSlots = slots
	}
	if st.Status == "" {
		st.Status = VerifyNone
	}
	return st
}

// openFlowLocked resets the flow to a fresh pending state. Caller must
// hold the store lock.
func (m *Machine) openFlowLocked(st *VerificationState) {
	st.Status = VerifyPending
	st.CollectedSlots = nil
	st.Attempts = 0
	st.PendingField = m.flow.Slots[0]
	st.ExpiresAt = time.Now().Add(m.ttl)
}

// expireStale abandons a pending flow whose ttl has passed. Caller must
// hold the store lock.
func (m *Machine) expireStale(st *VerificationState) {
	if st.Status != VerifyPending {
		return
	}
	if st.ExpiresAt.IsZero() || time.Now().Before(st.ExpiresAt) {
		return
	}
	st.Status = VerifyNone
	st.CollectedSlots = nil
	st.PendingField = ""
	st.Attempts = 0
	st.ExpiresAt = time.Time{}
}

// nextExpected returns the first unfilled slot in flow order, or empty
// when the flow is complete.
func (m *Machine) nextExpected(st *VerificationState) string {
	for _, slot := range m.flow.Slots {
		if _, ok := st.CollectedSlots[slot]; !ok {
			return slot
		}
	}
	return ""
}

// matches compares every flow slot against the candidate record. The
// comparison result carries no detail about which field mismatched.
func (m *Machine) matches(collected map[string]string, candidate CandidateRecord) bool {
	if candidate.SubjectID == "" {
		return false
	}
	for _, slot := range m.flow.Slots {
		have, ok := collected[slot]
		if !ok {
			return false
		}
		raw, ok := candidate.Fields[slot]
		if !ok {
			return false
		}
		want, ok := NormalizeSlot(slot, raw)
		if !ok || have != want {
			return false
		}
	}
	return true
}

// Slot value shapes
var (
	reOrderNumber = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,31}$`)
	reSlotEmail   = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	rePostalCode  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9 -]{1,9}$`)
	reSpaceRun    = regexp.MustCompile(`\s+`)
)

// NormalizeSlot canonicalizes a raw slot value so that user answers and
// record fields compare on equal footing. ok is false when the value is
// not a plausible answer for the slot.
func NormalizeSlot(slotName, raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", false
	}

	switch slotName {
	case SlotOrderNumber:
		v = strings.ToUpper(strings.ReplaceAll(v, " ", ""))
		v = strings.TrimPrefix(v, "#")
		if !reOrderNumber.MatchString(v) {
			return "", false
		}
		return v, true

	case SlotEmail:
		v = strings.ToLower(v)
		if !reSlotEmail.MatchString(v) {
			return "", false
		}
		return v, true

	case SlotPostalCode:
		v = strings.ToUpper(reSpaceRun.ReplaceAllString(v, " "))
		if !rePostalCode.MatchString(v) {
			return "", false
		}
		return v, true

	default:
		v = reSpaceRun.ReplaceAllString(v, " ")
		if len(v) > 64 {
			return "", false
		}
		return v, true
	}
}

// IsSlotShaped reports whether text looks like an answer to a pending
// identity slot rather than a new request. Short structured input (a
// bare code, a number, an email) is slot-shaped; multi-word free text is
// not. The pipeline treats slot-shaped input as a slot answer whenever a
// slot is pending, and only free-form input triggers a topic switch.
func IsSlotShaped(text string, maxWords int) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > maxWords {
		return false
	}

	joined := strings.Join(fields, " ")
	if strings.ContainsAny(joined, "0123456789") {
		return true
	}
	if strings.Contains(joined, "@") {
		return true
	}
	// A single compact token, e.g. a letters-only postal code
	return len(fields) == 1 && len(fields[0]) <= 16
}
