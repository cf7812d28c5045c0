package ingestion

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns s in NFC form with control and zero-width characters
// removed and surrounding whitespace trimmed.
func NormalizeName(s string) string {
	t := transform.Chain(
		norm.NFC,
		runes.Remove(runes.Predicate(func(r rune) bool {
			if unicode.IsControl(r) {
				return true
			}
			switch r {
			case '\u200B', '\u200C', '\u200D', '\uFEFF':
				return true
			}
			return false
		})),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(out)
}
