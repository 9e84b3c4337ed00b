package risk

import (
	"context"
	"testing"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

func inspectFor(t *testing.T, text string) *Inspection {
	t.Helper()
	return NewInspection(text, "en", 10*1024, patterns.Get())
}

func TestProfanityDetectorLanguages(t *testing.T) {
	d := NewProfanityDetector()

	tests := []struct {
		name     string
		input    string
		wantLang string
	}{
		{"english", "this is complete bullshit", "en"},
		{"english strong", "fuck this agent", "en"},
		{"spanish", "esto es una mierda", "es"},
		{"german", "so eine scheiße", "de"},
		{"french", "c'est de la merde", "fr"},
		{"portuguese", "que porra é essa", "pt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := d.Inspect(context.Background(), inspectFor(t, tt.input))
			if len(findings) == 0 {
				t.Fatalf("expected a profanity finding for %q", tt.input)
			}
			f := findings[0]
			if f.Kind != FindingProfanity {
				t.Errorf("kind = %s, want %s", f.Kind, FindingProfanity)
			}
			if f.Language != tt.wantLang {
				t.Errorf("language = %s, want %s", f.Language, tt.wantLang)
			}
		})
	}
}

func TestProfanityDetectorCleanText(t *testing.T) {
	d := NewProfanityDetector()

	clean := []string{
		"hello, could you check the status of my parcel",
		"the assassin character in the game is great", // matching is per token, not substring
		"my address is in Scunthorpe",
		"",
	}

	for _, input := range clean {
		findings := d.Inspect(context.Background(), inspectFor(t, input))
		if len(findings) != 0 {
			t.Errorf("input %q: expected no findings, got %v", input, findings)
		}
	}
}

func TestProfanityDetectorLeetFolding(t *testing.T) {
	d := NewProfanityDetector()

	findings := d.Inspect(context.Background(), inspectFor(t, "this is bull$h17"))
	if len(findings) == 0 {
		t.Fatal("expected leet-folded profanity to be caught")
	}
	if findings[0].Pattern != "bullshit" {
		t.Errorf("pattern = %q, want %q", findings[0].Pattern, "bullshit")
	}
}

func TestProfanityDetectorAddWords(t *testing.T) {
	d := NewProfanityDetector()
	d.AddWords("en", []string{"Borkish", ""})

	findings := d.Inspect(context.Background(), inspectFor(t, "stop being so borkish"))
	if len(findings) != 1 {
		t.Fatalf("expected exactly one finding, got %d", len(findings))
	}
	if findings[0].Pattern != "borkish" {
		t.Errorf("pattern = %q, want %q", findings[0].Pattern, "borkish")
	}
}

func TestProfanityDetectorDedupesRepeats(t *testing.T) {
	d := NewProfanityDetector()

	findings := d.Inspect(context.Background(), inspectFor(t, "shit shit shit"))
	if len(findings) != 1 {
		t.Errorf("repeated word should yield one finding, got %d", len(findings))
	}
}
