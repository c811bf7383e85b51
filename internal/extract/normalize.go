package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// NormalizeContent collapses whitespace runs and trims, so composer
// input and rendered listing text compare equal despite layout
// differences.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// canonicalize reduces text to lowercase alphanumerics. It survives the
// renderer's punctuation substitutions (smart quotes, ellipsis) that
// break exact normalized comparison.
func canonicalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContentHash fingerprints post content for the last-resort matching
// layer. Two texts hash equal when they agree after canonicalization.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(canonicalize(s)))
	return hex.EncodeToString(sum[:])
}
