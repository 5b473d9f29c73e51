// Package slug derives URL-safe hotel identifiers from a name and locality.
package slug

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// Fallback is the slug used when neither name nor locality yields a token.
const Fallback = "hotel"

// suffixLen is the hex length of the first disambiguation suffix. Each
// further attempt adds two characters.
const suffixLen = 6

// Tokens folds accents, lower-cases, and splits s on every character
// outside [a-z0-9].
func Tokens(s string) []string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}

// Slugify builds the base slug for a hotel: the name tokens followed by the
// locality tokens, unless the name already contains the locality.
func Slugify(name string, locality model.Address) string {
	tokens := Tokens(name)
	loc := Tokens(locality.Locality())
	if len(loc) > 0 && !containsRun(tokens, loc) {
		tokens = append(tokens, loc...)
	}
	if len(tokens) == 0 {
		return Fallback
	}
	return strings.Join(tokens, "-")
}

// Disambiguate appends a deterministic suffix derived from recordID to
// base. attempt starts at 0 and lengthens the suffix on each retry.
func Disambiguate(base, recordID string, attempt int) string {
	sum := sha256.Sum256([]byte(recordID))
	h := hex.EncodeToString(sum[:])
	n := suffixLen + 2*attempt
	if n > len(h) {
		n = len(h)
	}
	return base + "-" + h[:n]
}

// Valid reports whether s uses only the slug character set.
func Valid(s string) bool {
	if s == "" || strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") || strings.Contains(s, "--") {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// containsRun reports whether sub appears as a contiguous run in tokens.
func containsRun(tokens, sub []string) bool {
	for i := 0; i+len(sub) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(sub)], sub) {
			return true
		}
	}
	return false
}
