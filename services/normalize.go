package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalCDMX is the canonical name for Mexico City.
const CanonicalCDMX = "Ciudad de México"

// cityAliases is keyed by NormalizeKey output.
var cityAliases = map[string]string{
	"cdmx":                  CanonicalCDMX,
	"ciudad de mexico":      CanonicalCDMX,
	"ciudad de mexico cdmx": CanonicalCDMX,
	"mexico city":           CanonicalCDMX,
	"mexico df":             CanonicalCDMX,
	"df":                    CanonicalCDMX,
	"distrito federal":      CanonicalCDMX,
	"guadalajara":           "Guadalajara",
	"monterrey":             "Monterrey",
	"cancun":                "Cancún",
	"playa del carmen":      "Playa del Carmen",
	"merida":                "Mérida",
	"queretaro":             "Querétaro",
	"santiago de queretaro": "Querétaro",
	"puebla":                "Puebla",
	"tulum":                 "Tulum",
}

// lowercase connectors inside Spanish place names
var connectors = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "los": {}, "y": {}, "el": {},
}

// FoldAccents strips combining marks, so "Cancún" becomes "Cancun".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeKey folds case and accents and collapses whitespace. Used for
// grouping keys, never for display.
func NormalizeKey(s string) string {
	s = strings.ToLower(FoldAccents(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// TitleCase capitalises each word of a place name and keeps accents.
func TitleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if _, ok := connectors[w]; ok && i > 0 {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// CanonicalCity maps known aliases to a canonical city name and title-cases
// everything else.
func CanonicalCity(s string) string {
	s = normaliseText(s)
	if s == "" {
		return ""
	}
	if c, ok := cityAliases[NormalizeKey(s)]; ok {
		return c
	}
	return TitleCase(s)
}
