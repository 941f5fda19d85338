package fidelity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CityKey folds a city name into the key used to compare tenants: accents
// stripped, case folded, inner whitespace collapsed.
func CityKey(city string) string {
	// Transformers carry state, build a fresh chain per call.
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(strip, city)
	if err != nil {
		folded = city
	}
	folded = cases.Fold().String(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// SameCity reports whether two city names designate the same tenant.
func SameCity(a, b string) bool {
	return CityKey(a) == CityKey(b)
}
