package risk

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Characters that render as nothing but split tokens apart, which
// defeats word-boundary matching. Stripped before any pattern runs.
var invisibleRunes = map[rune]bool{
	'​':      true, // zero-width space
	'‌':      true, // zero-width non-joiner
	'‍':      true, // zero-width joiner
	'⁠':      true, // word joiner
	'\uFEFF': true, // byte order mark
	'­':      true, // soft hyphen
}

// Cyrillic and Greek letters that render identically to Latin ones.
// Folding them first means "іgnоre" matches the same patterns as
// "ignore".
var homoglyphRunes = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', 'е': 'e', 'о': 'o', 'р': 'p', 'с': 'c', 'х': 'x', 'у': 'y', 'і': 'i',
	// Cyrillic uppercase
	'А': 'A', 'В': 'B', 'Е': 'E', 'З': 'Z', 'К': 'K', 'М': 'M', 'Н': 'H',
	'О': 'O', 'Р': 'P', 'С': 'C', 'Т': 'T', 'Х': 'X', 'У': 'Y',
	// Greek uppercase
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	// Greek lowercase
	'ο': 'o', 'ν': 'v',
}

// Digit and symbol substitutions used to dodge word matching
// ("1gn0re th3 rul35").
var leetRunes = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't',
	'@': 'a', '$': 's', '!': 'i',
}

// Collapses horizontal whitespace only. Newlines stay because the
// delimiter patterns anchor on line starts.
var reHorizontalSpace = regexp.MustCompile(`[ \t]+`)

type normalized struct {
	text         string
	hadInvisible bool
	hadHomoglyph bool
}

// normalizeText canonicalizes inbound text for pattern matching:
// Unicode NFKC, invisible characters stripped, homoglyphs folded to
// Latin, lowercased, horizontal whitespace collapsed.
func normalizeText(raw string) normalized {
	text := norm.NFKC.String(raw)

	var out normalized
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if invisibleRunes[r] {
			out.hadInvisible = true
			continue
		}
		if folded, ok := homoglyphRunes[r]; ok {
			out.hadHomoglyph = true
			r = folded
		}
		b.WriteRune(r)
	}

	text = strings.ToLower(b.String())
	text = reHorizontalSpace.ReplaceAllString(text, " ")
	out.text = strings.TrimSpace(text)
	return out
}

// foldLeet maps digit and symbol substitutions back to letters. Only
// useful on already-normalized text, and only for matching: the result
// mangles legitimate numbers, so it is never shown or stored.
func foldLeet(text string) string {
	return strings.Map(func(r rune) rune {
		if folded, ok := leetRunes[r]; ok {
			return folded
		}
		return r
	}, text)
}
