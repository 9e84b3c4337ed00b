package risk

import (
	"encoding/base64"
	"encoding/hex"
	"html"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/TryMightyAI/rampart/pkg/patterns"
)

// maxDecodedPayloads bounds decode work per message so adversarial
// input stuffed with blobs cannot burn CPU.
const maxDecodedPayloads = 10

// DecodedPayload is a hidden string recovered from an encoded blob in
// the raw text.
type DecodedPayload struct {
	Text     string
	Encoding ObfuscationType
}

// harvestDecoded finds encoded blobs via the encoding pattern category
// and decodes each one so injection patterns can run against the hidden
// payload. Blobs that fail to decode or decode to binary noise are
// skipped.
func harvestDecoded(raw string, registry *patterns.Registry) []DecodedPayload {
	var out []DecodedPayload

	for _, p := range registry.GetByCategory(patterns.CategoryEncoding) {
		if len(out) >= maxDecodedPayloads {
			break
		}

		for _, blob := range p.Regex.FindAllString(raw, maxDecodedPayloads) {
			if len(out) >= maxDecodedPayloads {
				break
			}
			text, encoding, ok := decodeBlob(p.Name, blob)
			if !ok || !isMostlyPrintable(text) {
				continue
			}
			out = append(out, DecodedPayload{
				Text:     strings.ToLower(text),
				Encoding: encoding,
			})
		}
	}

	return out
}

// decodeBlob dispatches on the encoding pattern name. Patterns with no
// payload to recover (zero-width characters) report not ok, the
// normalizer already handles them.
func decodeBlob(patternName, blob string) (string, ObfuscationType, bool) {
	switch patternName {
	case "base64_blob":
		decoded, err := base64.StdEncoding.DecodeString(blob)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(blob)
		}
		if err != nil {
			return "", ObfuscationNone, false
		}
		return string(decoded), ObfuscationBase64, true

	case "hex_blob":
		decoded, err := hex.DecodeString(strings.ToLower(blob))
		if err != nil {
			return "", ObfuscationNone, false
		}
		return string(decoded), ObfuscationHex, true

	case "url_encoded_run":
		decoded, err := url.QueryUnescape(blob)
		if err != nil {
			return "", ObfuscationNone, false
		}
		return decoded, ObfuscationURL, true

	case "unicode_escape_run":
		decoded, err := strconv.Unquote(`"` + blob + `"`)
		if err != nil {
			return "", ObfuscationNone, false
		}
		return decoded, ObfuscationUnicode, true

	case "html_entity_run":
		return html.UnescapeString(blob), ObfuscationHTML, true

	default:
		return "", ObfuscationNone, false
	}
}

// isMostlyPrintable rejects decoded output that is binary noise rather
// than hidden text. Requires valid UTF-8 and at least 90% printable
// runes.
func isMostlyPrintable(s string) bool {
	if s == "" {
		return false
	}
	total, printable := 0, 0
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return false
		}
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	return printable*10 >= total*9
}
