package transform

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	texttransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters that do not decompose under NFKD but have a customary ASCII form.
var letterFold = strings.NewReplacer(
	"ß", "ss", "ẞ", "SS",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"đ", "d", "Đ", "D",
	"þ", "th", "Þ", "TH",
)

// Fold maps s to its closest ASCII spelling: compatibility decomposition,
// combining marks dropped, a few special letters spelled out.
func Fold(s string) string {
	t := texttransform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := texttransform.String(t, letterFold.Replace(s))
	if err != nil {
		return letterFold.Replace(s)
	}
	return out
}

// Slug folds s and replaces every run of characters outside [A-Za-z0-9]
// with a single hyphen. Leading and trailing hyphens are trimmed.
// Case is preserved.
func Slug(s string) string {
	s = Fold(s)
	var b strings.Builder
	b.Grow(len(s))
	pendingHyphen := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteByte(c)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// PlaceID derives the stable, source-scoped identifier of a place from its
// human readable name or provider identifier. Historical ids are joined on
// this value, so the mapping must never change.
func PlaceID(sourceID, name string) string {
	slug := Slug(name)
	if slug == "" {
		return sourceID
	}
	if sourceID == "" {
		return slug
	}
	return sourceID + "-" + slug
}

// normalizeID accepts identifiers that are already source-prefixed
// (legacy canonical records) without prefixing them twice.
func normalizeID(sourceID, id string) string {
	slug := Slug(id)
	if sourceID != "" && strings.HasPrefix(slug, sourceID+"-") {
		return slug
	}
	return PlaceID(sourceID, id)
}
