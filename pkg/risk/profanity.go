package risk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Built-in abusive-language lists keyed by language code. Deliberately
// short and direct, tenant-specific additions come in via seed files.
var profanitySeed = map[string][]string{
	"en": {
		"fuck", "fucking", "fucker", "motherfucker", "shit", "bullshit",
		"bitch", "bitches", "asshole", "assholes", "bastard", "dickhead",
		"cunt", "wanker", "prick", "twat", "douchebag",
	},
	"es": {
		"mierda", "puta", "puto", "cabron", "cabrón", "gilipollas",
		"joder", "jódete", "coño", "pendejo", "pendeja", "capullo",
	},
	"de": {
		"scheisse", "scheiße", "arschloch", "fotze", "hurensohn",
		"wichser", "mistkerl", "drecksau",
	},
	"fr": {
		"merde", "putain", "pute", "salope", "salopard", "connard",
		"connasse", "enculé", "encule", "bâtard", "batard", "foutre",
	},
	"pt": {
		"merda", "caralho", "porra", "foda", "foder", "buceta",
		"arrombado", "otário", "otario",
	},
}

// ProfanityDetector flags abusive language as whole-token matches on
// the normalized and leet-folded views. Every language list is scanned
// regardless of the declared conversation language, people swear in
// whatever language they like.
type ProfanityDetector struct {
	mu    sync.RWMutex
	lists map[string]map[string]bool
	langs []string // sorted keys of lists, kept for deterministic scans
}

// NewProfanityDetector creates a detector preloaded with the built-in
// lists
func NewProfanityDetector() *ProfanityDetector {
	d := &ProfanityDetector{lists: make(map[string]map[string]bool)}
	for lang, words := range profanitySeed {
		d.AddWords(lang, words)
	}
	return d
}

// AddWords extends the list for a language. Words are matched as whole
// lowercase tokens.
func (d *ProfanityDetector) AddWords(lang string, words []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set := d.lists[lang]
	if set == nil {
		set = make(map[string]bool)
		d.lists[lang] = set
		d.langs = append(d.langs, lang)
		sort.Strings(d.langs)
	}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			set[w] = true
		}
	}
}

// Name implements Detector
func (d *ProfanityDetector) Name() string { return "profanity" }

// Inspect implements Detector
func (d *ProfanityDetector) Inspect(_ context.Context, in *Inspection) []Finding {
	tokens := tokenize(in.Normalized)
	if in.Folded != in.Normalized {
		tokens = append(tokens, tokenize(in.Folded)...)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var findings []Finding
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		for _, lang := range d.langs {
			if d.lists[lang][tok] {
				findings = append(findings, Finding{
					Kind:     FindingProfanity,
					Pattern:  tok,
					Severity: 50,
					Language: lang,
					Detail:   "abusive language",
				})
				break
			}
		}
	}
	return findings
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}
