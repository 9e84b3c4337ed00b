package risk

import (
	"context"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// PIIDetector flags unmasked personal data volunteered by the user.
// Matches run on the raw text: normalization lowercases and reflows
// whitespace, which would distort card and account number shapes.
type PIIDetector struct {
	registry *patterns.Registry
}

// NewPIIDetector creates a detector backed by the given registry
func NewPIIDetector(registry *patterns.Registry) *PIIDetector {
	return &PIIDetector{registry: registry}
}

// Name implements Detector
func (d *PIIDetector) Name() string { return "pii" }

// Inspect implements Detector
func (d *PIIDetector) Inspect(_ context.Context, in *Inspection) []Finding {
	var findings []Finding
	for _, p := range d.registry.GetByCategory(patterns.CategoryPII) {
		if p.Regex.MatchString(in.Raw) {
			findings = append(findings, Finding{
				Kind:     FindingPII,
				Pattern:  p.Name,
				Severity: p.Severity,
				Detail:   p.Description,
			})
		}
	}
	return findings
}
