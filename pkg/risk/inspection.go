package risk

import (
	"strings"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// Inspection bundles every view of one inbound message that detectors
// match against. Built once per classify call and shared read-only
// across the chain.
type Inspection struct {
	// Raw is the message as received, truncated to the size cap
	Raw string

	// Normalized is the canonical lowercased view (see normalizeText)
	Normalized string

	// Folded is Normalized with leetspeak substitutions reversed
	Folded string

	// Decoded holds payloads recovered from encoded blobs in Raw
	Decoded []DecodedPayload

	// Language is the declared conversation language (short code, "en")
	Language string

	HadInvisible bool
	HadHomoglyph bool
}

// NewInspection builds all views for one message. maxSize caps the raw
// bytes considered, oversized input is truncated rather than rejected.
func NewInspection(raw, language string, maxSize int, registry *patterns.Registry) *Inspection {
	if maxSize > 0 && len(raw) > maxSize {
		raw = strings.ToValidUTF8(raw[:maxSize], "")
	}

	n := normalizeText(raw)
	return &Inspection{
		Raw:          raw,
		Normalized:   n.text,
		Folded:       foldLeet(n.text),
		Decoded:      harvestDecoded(raw, registry),
		Language:     language,
		HadInvisible: n.hadInvisible,
		HadHomoglyph: n.hadHomoglyph,
	}
}

// baseObfuscation reports what normalization already removed, so a
// match on the normalized view carries the right annotation.
func (in *Inspection) baseObfuscation() ObfuscationType {
	switch {
	case in.HadInvisible:
		return ObfuscationZeroWidth
	case in.HadHomoglyph:
		return ObfuscationHomoglyph
	default:
		return ObfuscationNone
	}
}
