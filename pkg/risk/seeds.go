package risk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// SeedPattern is one regex pattern from a seed file
type SeedPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Category    string `yaml:"category"`
	Severity    int    `yaml:"severity"`
	Description string `yaml:"description"`
}

// SeedFile is the on-disk format for per-deployment detector
// extensions: extra regex patterns, extra profanity words per language,
// and exemplar phrases for the semantic stage.
type SeedFile struct {
	InjectionPatterns []SeedPattern       `yaml:"injection_patterns"`
	Profanity         map[string][]string `yaml:"profanity"`
	SemanticExemplars []SemanticPattern   `yaml:"semantic_exemplars"`
}

// LoadSeedDir parses every *.yaml and *.yml file in dir in name order.
// A missing directory is not an error: deployments without extensions
// have none.
func LoadSeedDir(dir string) ([]SeedFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read seed dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var files []SeedFile
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file %s: %w", name, err)
		}
		var sf SeedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("failed to parse seed file %s: %w", name, err)
		}
		files = append(files, sf)
	}
	return files, nil
}

// Apply merges one seed file into the live detectors. Patterns with an
// unknown category or a regex that does not compile are rejected with
// an error naming the offender, nothing from the file is rolled back.
func (sf SeedFile) Apply(registry *patterns.Registry, profanity *ProfanityDetector) error {
	for _, p := range sf.InjectionPatterns {
		cat, ok := seedCategory(p.Category)
		if !ok {
			return fmt.Errorf("seed pattern %q: unknown category %q", p.Name, p.Category)
		}
		severity := p.Severity
		if severity <= 0 || severity > 100 {
			severity = 60
		}
		if err := registry.Add(p.Name, p.Pattern, cat, severity, p.Description); err != nil {
			return fmt.Errorf("seed pattern %q: %w", p.Name, err)
		}
	}

	if profanity != nil {
		for lang, words := range sf.Profanity {
			profanity.AddWords(lang, words)
		}
	}
	return nil
}

// LoadAndApply loads every seed file under dir and applies it to the
// registry, the profanity lists and, when non-nil, the semantic stage.
// Returns how many files were applied.
func LoadAndApply(ctx context.Context, dir string, registry *patterns.Registry, profanity *ProfanityDetector, stage *SemanticStage) (int, error) {
	files, err := LoadSeedDir(dir)
	if err != nil {
		return 0, err
	}
	for _, sf := range files {
		if err := sf.Apply(registry, profanity); err != nil {
			return 0, err
		}
		if stage != nil {
			if err := stage.LoadExemplars(ctx, sf.SemanticExemplars); err != nil {
				return 0, err
			}
		}
	}
	return len(files), nil
}

func seedCategory(s string) (patterns.Category, bool) {
	switch cat := patterns.Category(strings.ToLower(strings.TrimSpace(s))); cat {
	case patterns.CategoryInjection, patterns.CategoryRoleHijack, patterns.CategoryDelimiter,
		patterns.CategoryEncoding, patterns.CategoryPII:
		return cat, true
	default:
		return "", false
	}
}
