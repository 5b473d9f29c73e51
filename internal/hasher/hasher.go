// Package hasher fingerprints scraped hotel content for change detection.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// Normalize is the single normalization applied before hashing: Unicode NFC,
// lower case, and every run of whitespace collapsed to one space with the
// ends trimmed.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return norm.NFC.String(b.String())
}

// Hash returns the hex SHA-256 digest of the normalized content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// Canonical serializes a raw extraction in a fixed field order. Amenities
// and policy tables are order-insensitive and each of their items is
// length-prefixed; the URL and chain are not part of the content.
func Canonical(raw model.RawExtraction) string {
	var b strings.Builder
	field := func(key, value string) {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	line := func(key, value string) { field(key, Normalize(value)) }

	line("name", raw.Name)
	line("description", raw.Description)
	line("address", raw.Address)
	line("phone", raw.Phone)

	amenities := make([]string, 0, len(raw.Amenities))
	for _, a := range raw.Amenities {
		if a = Normalize(a); a != "" {
			amenities = append(amenities, a)
		}
	}
	slices.Sort(amenities)
	for i, a := range amenities {
		amenities[i] = item(a)
	}
	field("amenities", strings.Join(amenities, ","))

	field("parking", table(raw.Policies.Parking))
	field("pets", table(raw.Policies.Pets))
	line("smoking", raw.Policies.Smoking)
	line("wifi", raw.Policies.WiFi)
	line("rating", raw.Rating)
	return b.String()
}

// HashRaw returns the content hash of a raw extraction.
func HashRaw(raw model.RawExtraction) string {
	sum := sha256.Sum256([]byte(Canonical(raw)))
	return hex.EncodeToString(sum[:])
}

// table renders a policy table sorted by normalized key then value.
func table(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, pair{Normalize(k), Normalize(v)})
	}
	slices.SortFunc(pairs, func(a, b pair) int {
		if c := strings.Compare(a.k, b.k); c != 0 {
			return c
		}
		return strings.Compare(a.v, b.v)
	})
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, item(p.k)+"="+item(p.v))
	}
	return strings.Join(parts, ";")
}

// item prefixes s with its byte length so list boundaries cannot collide
// with separators inside values.
func item(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}
