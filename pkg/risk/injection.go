package risk

import (
	"context"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// hostileCategories are the pattern categories whose matches reject a
// turn outright.
var hostileCategories = []patterns.Category{
	patterns.CategoryInjection,
	patterns.CategoryRoleHijack,
	patterns.CategoryDelimiter,
}

// InjectionDetector matches the injection, role-hijack and delimiter
// pattern categories against the normalized text, the leet-folded text
// and every decoded payload.
type InjectionDetector struct {
	registry *patterns.Registry
}

// NewInjectionDetector creates a detector backed by the given registry
func NewInjectionDetector(registry *patterns.Registry) *InjectionDetector {
	return &InjectionDetector{registry: registry}
}

// Name implements Detector
func (d *InjectionDetector) Name() string { return "injection" }

// Inspect implements Detector
func (d *InjectionDetector) Inspect(_ context.Context, in *Inspection) []Finding {
	var findings []Finding

	findings = d.appendMatches(findings, in.Normalized, in.baseObfuscation())
	if in.Folded != in.Normalized {
		findings = d.appendMatches(findings, in.Folded, ObfuscationLeetspeak)
	}
	for _, payload := range in.Decoded {
		findings = d.appendMatches(findings, payload.Text, payload.Encoding)
	}

	return dedupeByPattern(findings)
}

func (d *InjectionDetector) appendMatches(findings []Finding, text string, obfuscation ObfuscationType) []Finding {
	if text == "" {
		return findings
	}
	for _, p := range d.registry.GetMultipleCategories(hostileCategories...) {
		if p.Regex.MatchString(text) {
			findings = append(findings, Finding{
				Kind:        kindForCategory(p.Category),
				Pattern:     p.Name,
				Severity:    p.Severity,
				Obfuscation: obfuscation,
				Detail:      p.Description,
			})
		}
	}
	return findings
}

func kindForCategory(cat patterns.Category) FindingKind {
	switch cat {
	case patterns.CategoryRoleHijack:
		return FindingRoleHijack
	case patterns.CategoryDelimiter:
		return FindingDelimiter
	default:
		return FindingInjection
	}
}

// dedupeByPattern keeps the first finding per pattern name. Views are
// checked plainest-first, so an unobfuscated match wins over the same
// pattern resurfacing in a decoded payload.
func dedupeByPattern(findings []Finding) []Finding {
	if len(findings) < 2 {
		return findings
	}
	seen := make(map[string]bool, len(findings))
	out := findings[:0]
	for _, f := range findings {
		if seen[f.Pattern] {
			continue
		}
		seen[f.Pattern] = true
		out = append(out, f)
	}
	return out
}
