// Package risk classifies a single inbound message before any business
// logic or model call runs. It chains independent detectors (prompt
// injection, abusive language, PII disclosure, optional semantic
// similarity) over several views of the text and aggregates their
// findings into one verdict with a fixed priority: a session lock beats
// a per-turn soft refusal, and advisory warnings never block.
package risk

// Verdict is the aggregate outcome for one inbound message
type Verdict string

const (
	// VerdictClean lets the turn proceed to the orchestrator
	VerdictClean Verdict = "clean"

	// VerdictSoftRefusal rejects this turn only, the session stays open
	VerdictSoftRefusal Verdict = "soft_refusal"

	// VerdictLock blocks the session until an explicit reset
	VerdictLock Verdict = "lock"
)

// FindingKind identifies which detector family produced a finding
type FindingKind string

const (
	FindingInjection  FindingKind = "injection"
	FindingRoleHijack FindingKind = "role_hijack"
	FindingDelimiter  FindingKind = "delimiter"
	FindingProfanity  FindingKind = "profanity"
	FindingPII        FindingKind = "pii"
	FindingSemantic   FindingKind = "semantic"
)

// ObfuscationType identifies the transformation that exposed a finding
type ObfuscationType string

const (
	ObfuscationNone      ObfuscationType = ""
	ObfuscationBase64    ObfuscationType = "base64"
	ObfuscationHex       ObfuscationType = "hex"
	ObfuscationURL       ObfuscationType = "url"
	ObfuscationUnicode   ObfuscationType = "unicode_escapes"
	ObfuscationHTML      ObfuscationType = "html_entity"
	ObfuscationZeroWidth ObfuscationType = "zero_width"
	ObfuscationHomoglyph ObfuscationType = "homoglyphs"
	ObfuscationLeetspeak ObfuscationType = "leetspeak"
)

// Finding is one detector hit on one view of the message
type Finding struct {
	// Kind identifies the detector family that matched
	Kind FindingKind `json:"kind"`

	// Pattern is the name of the matched pattern or word list entry
	Pattern string `json:"pattern"`

	// Severity is the pattern severity (0-100)
	Severity int `json:"severity"`

	// Language is set for language-specific matches (e.g. profanity lists)
	Language string `json:"language,omitempty"`

	// Obfuscation records which decoding step exposed the match, empty
	// when the pattern matched the plain normalized text
	Obfuscation ObfuscationType `json:"obfuscation,omitempty"`

	// Detail is a short human-readable description of the match
	Detail string `json:"detail,omitempty"`
}

// Warning is advisory output attached to the eventual reply. Warnings
// never block a turn.
type Warning struct {
	Kind   string `json:"kind"`
	Notice string `json:"notice"`
}

// Classification is the aggregate result of one classify call. At most
// one of the lock and soft-refusal outcomes is set, lock wins.
type Classification struct {
	Verdict  Verdict   `json:"verdict"`
	Findings []Finding `json:"findings,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`

	// AbuseTotal is the session abuse counter after this call, in
	// half-point units. Zero when nothing was recorded this turn.
	AbuseTotal int `json:"abuse_total,omitempty"`

	// Reason is a short internal explanation for a non-clean verdict.
	// It is audit detail, never user-facing copy.
	Reason string `json:"reason,omitempty"`
}

// ShouldLock reports whether the session must be locked
func (c Classification) ShouldLock() bool { return c.Verdict == VerdictLock }

// SoftRefusal reports whether only this turn is rejected
func (c Classification) SoftRefusal() bool { return c.Verdict == VerdictSoftRefusal }
