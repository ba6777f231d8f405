package services

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// amenityOrder is the output order of canonical amenity names.
var amenityOrder = []string{
	"alberca",
	"gimnasio",
	"terraza",
	"jardin",
	"elevador",
	"seguridad",
	"estacionamiento",
	"balcon",
	"roof_garden",
	"cuarto_servicio",
	"amueblado",
	"aire_acondicionado",
	"pet_friendly",
	"salon_eventos",
	"area_juegos",
	"cocina_integral",
	"chimenea",
	"paneles_solares",
}

// amenityKeywords maps accent-folded lowercase keywords to canonical names.
var amenityKeywords = map[string]string{
	"alberca":            "alberca",
	"piscina":            "alberca",
	"pool":               "alberca",
	"gimnasio":           "gimnasio",
	"gym":                "gimnasio",
	"terraza":            "terraza",
	"jardin":             "jardin",
	"elevador":           "elevador",
	"ascensor":           "elevador",
	"seguridad 24":       "seguridad",
	"vigilancia":         "seguridad",
	"caseta":             "seguridad",
	"estacionamiento":    "estacionamiento",
	"cochera":            "estacionamiento",
	"cajon":              "estacionamiento",
	"balcon":             "balcon",
	"roof garden":        "roof_garden",
	"rooftop":            "roof_garden",
	"cuarto de servicio": "cuarto_servicio",
	"amueblado":          "amueblado",
	"aire acondicionado": "aire_acondicionado",
	"pet friendly":       "pet_friendly",
	"mascotas":           "pet_friendly",
	"salon de eventos":   "salon_eventos",
	"salon de fiestas":   "salon_eventos",
	"area de juegos":     "area_juegos",
	"juegos infantiles":  "area_juegos",
	"cocina integral":    "cocina_integral",
	"chimenea":           "chimenea",
	"paneles solares":    "paneles_solares",
}

// AmenityMatcher finds amenity keywords in free text with a single
// Aho-Corasick pass.
type AmenityMatcher struct {
	matcher   *ahocorasick.Matcher
	canonical []string // indexed like the dictionary passed to the matcher
	rank      map[string]int
}

// NewAmenityMatcher builds the matcher from the built-in keyword table.
func NewAmenityMatcher() *AmenityMatcher {
	dict := make([]string, 0, len(amenityKeywords))
	canonical := make([]string, 0, len(amenityKeywords))
	for kw, name := range amenityKeywords {
		dict = append(dict, kw)
		canonical = append(canonical, name)
	}

	rank := make(map[string]int, len(amenityOrder))
	for i, name := range amenityOrder {
		rank[name] = i
	}

	return &AmenityMatcher{
		matcher:   ahocorasick.NewStringMatcher(dict),
		canonical: canonical,
		rank:      rank,
	}
}

// Extract returns the canonical amenities mentioned in text, in a stable order.
func (m *AmenityMatcher) Extract(text string) []string {
	folded := strings.ToLower(FoldAccents(text))
	if strings.TrimSpace(folded) == "" {
		return nil
	}

	found := make(map[string]struct{})
	for _, idx := range m.matcher.Match([]byte(folded)) {
		found[m.canonical[idx]] = struct{}{}
	}
	if len(found) == 0 {
		return nil
	}

	out := make([]string, len(amenityOrder))
	n := 0
	for name := range found {
		out[m.rank[name]] = name
		n++
	}
	result := make([]string, 0, n)
	for _, name := range out {
		if name != "" {
			result = append(result, name)
		}
	}
	return result
}
