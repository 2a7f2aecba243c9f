package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeTrackingNumber canonicalises carrier tracking numbers so values
// entered by sellers and values received from carrier feeds compare equal.
// Input is NFKC-normalised, whitespace and dash punctuation are stripped,
// and the result is uppercased. An empty result means no usable tracking
// number. NFKC does not fold en/em dashes or the non-breaking hyphen to
// ASCII, so dash removal matches the whole Pd category.
func NormalizeTrackingNumber(raw string) string {
	folded := norm.NFKC.String(raw)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) || unicode.Is(unicode.Pd, r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// TrackingNumbersEqual reports whether two raw tracking numbers refer to the
// same shipment after normalization. Two empty values do not match.
func TrackingNumbersEqual(a, b string) bool {
	na := NormalizeTrackingNumber(a)
	if na == "" {
		return false
	}
	return na == NormalizeTrackingNumber(b)
}
