package risk

import (
	"context"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// weightProfanity is the abuse-counter weight of a profane turn, in
// half-point units. A soft refusal weighs in at the configured refusal
// weight (default 1), so two refused turns count like one profane one.
const weightProfanity = 2

// AbuseTracker accumulates abusive-language weight for the session the
// message belongs to and returns the new rolling total in half-point
// units. Implemented by the session store.
type AbuseTracker interface {
	RecordAbuse(weight int) int
}

// Detector inspects one message and reports findings. One RiskDetector
// serves every session, so implementations must be safe for concurrent
// use.
type Detector interface {
	Name() string
	Inspect(ctx context.Context, in *Inspection) []Finding
}

// RiskDetector runs the detector chain in a fixed order and aggregates
// findings into a single verdict per message.
type RiskDetector struct {
	registry        *patterns.Registry
	chain           []Detector
	profanity       *ProfanityDetector
	semantic        *SemanticStage
	abuseThreshold  int
	refusalWeight   int
	maxInputSize    int
	defaultLanguage string
}

// Option configures a RiskDetector
type Option func(*RiskDetector)

// WithAbuseThreshold sets how many full abuse points within the rolling
// window lock a session
func WithAbuseThreshold(n int) Option {
	return func(d *RiskDetector) {
		if n > 0 {
			d.abuseThreshold = n
		}
	}
}

// WithRefusalWeight sets the half-point weight a soft refusal adds to
// the session abuse counter. Zero disables refusal escalation.
func WithRefusalWeight(n int) Option {
	return func(d *RiskDetector) {
		if n >= 0 {
			d.refusalWeight = n
		}
	}
}

// WithMaxInputSize caps the raw bytes inspected per message
func WithMaxInputSize(n int) Option {
	return func(d *RiskDetector) {
		if n > 0 {
			d.maxInputSize = n
		}
	}
}

// WithDefaultLanguage sets the language assumed when a turn declares
// none
func WithDefaultLanguage(lang string) Option {
	return func(d *RiskDetector) {
		if lang != "" {
			d.defaultLanguage = lang
		}
	}
}

// WithProfanityDetector replaces the built-in profanity detector, e.g.
// one extended from tenant seed files
func WithProfanityDetector(p *ProfanityDetector) Option {
	return func(d *RiskDetector) { d.profanity = p }
}

// WithSemanticStage appends a semantic similarity stage to the chain
func WithSemanticStage(s *SemanticStage) Option {
	return func(d *RiskDetector) { d.semantic = s }
}

// WithChain replaces the default detector chain entirely. The semantic
// stage, when configured, is still appended after it.
func WithChain(detectors ...Detector) Option {
	return func(d *RiskDetector) { d.chain = detectors }
}

// NewRiskDetector creates a detector with the default chain: injection
// patterns, profanity lists, PII patterns, then the optional semantic
// stage.
func NewRiskDetector(opts ...Option) *RiskDetector {
	d := &RiskDetector{
		registry:        patterns.Get(),
		abuseThreshold:  3,
		refusalWeight:   1,
		maxInputSize:    10 * 1024,
		defaultLanguage: "en",
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.chain == nil {
		if d.profanity == nil {
			d.profanity = NewProfanityDetector()
		}
		d.chain = []Detector{
			NewInjectionDetector(d.registry),
			d.profanity,
			NewPIIDetector(d.registry),
		}
	}
	if d.semantic != nil {
		d.chain = append(d.chain, d.semantic)
	}
	return d
}

// Classify runs every detector over one inbound message and folds the
// findings into a verdict. Priority is fixed: hostile content refuses
// the turn, abusive language feeds the session counter via tracker,
// and the counter crossing the threshold locks the session. A lock
// always wins over a refusal. tracker may be nil for stateless callers,
// in which case no abuse is recorded and no lock can result.
func (d *RiskDetector) Classify(ctx context.Context, message, language string, tracker AbuseTracker) Classification {
	if language == "" {
		language = d.defaultLanguage
	}
	in := NewInspection(message, language, d.maxInputSize, d.registry)

	var findings []Finding
	for _, det := range d.chain {
		findings = append(findings, det.Inspect(ctx, in)...)
	}

	cls := Classification{Verdict: VerdictClean, Findings: findings}

	hostile := false
	profane := false
	for _, f := range findings {
		switch f.Kind {
		case FindingInjection, FindingRoleHijack, FindingDelimiter, FindingSemantic:
			hostile = true
		case FindingProfanity:
			profane = true
		case FindingPII:
			cls.Warnings = append(cls.Warnings, Warning{Kind: f.Pattern, Notice: f.Detail})
		}
	}

	if hostile {
		cls.Verdict = VerdictSoftRefusal
		cls.Reason = "prompt injection or role manipulation detected"
		if d.refusalWeight > 0 && tracker != nil {
			cls.AbuseTotal = tracker.RecordAbuse(d.refusalWeight)
		}
	}
	if profane && tracker != nil {
		cls.AbuseTotal = tracker.RecordAbuse(weightProfanity)
	}

	// Lock threshold is in half-points: abuseThreshold profane turns,
	// or twice as many soft refusals at the default weight.
	if cls.AbuseTotal >= 2*d.abuseThreshold {
		cls.Verdict = VerdictLock
		cls.Reason = "abusive language threshold crossed"
	}
	return cls
}
