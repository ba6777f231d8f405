package scraper

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/models"
)

// schema.org types that describe a single property.
var propertyTypes = map[string]bool{
	"product":               true,
	"realestatelisting":     true,
	"realestate":            true,
	"apartment":             true,
	"house":                 true,
	"singlefamilyresidence": true,
	"residence":             true,
	"accommodation":         true,
}

// containers whose children may hold properties.
var containerKeys = []string{"@graph", "mainEntity", "itemListElement", "item", "about"}

// ParseJSONLD extracts listings from every <script type="application/ld+json">
// block under sel. Source and ScrapedAt are left for the caller.
func ParseJSONLD(sel *goquery.Selection) []*models.RawListing {
	var out []*models.RawListing
	sel.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var doc any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &doc); err != nil {
			return
		}
		walkJSONLD(doc, nil, &out)
	})
	return out
}

// walkJSONLD descends through arrays and container nodes. offer carries the
// price of an enclosing Offer down to its itemOffered.
func walkJSONLD(node any, offer map[string]any, out *[]*models.RawListing) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			walkJSONLD(child, offer, out)
		}
	case map[string]any:
		types := typesOf(v)
		if types["offer"] || types["aggregateoffer"] {
			if item, ok := v["itemOffered"]; ok {
				walkJSONLD(item, v, out)
				return
			}
		}
		if isProperty(types) {
			if l := listingFromNode(v, offer); l != nil {
				*out = append(*out, l)
			}
			return
		}
		for _, key := range containerKeys {
			if child, ok := v[key]; ok {
				walkJSONLD(child, offer, out)
			}
		}
	}
}

func typesOf(node map[string]any) map[string]bool {
	types := make(map[string]bool)
	switch t := node["@type"].(type) {
	case string:
		types[strings.ToLower(t)] = true
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				types[strings.ToLower(s)] = true
			}
		}
	}
	return types
}

func isProperty(types map[string]bool) bool {
	for t := range types {
		if propertyTypes[t] {
			return true
		}
	}
	return false
}

func listingFromNode(node map[string]any, offer map[string]any) *models.RawListing {
	l := &models.RawListing{
		Title:       stringOf(node["name"]),
		URL:         firstString(node["url"], node["@id"]),
		Description: stringOf(node["description"]),
		Images:      imagesOf(node["image"]),
		SourceID:    firstString(node["sku"], node["productID"], node["identifier"]),
	}
	if l.Title == "" && l.URL == "" {
		return nil
	}

	for t := range typesOf(node) {
		if t != "product" && t != "realestatelisting" {
			l.PropertyTypeHint = t
		}
	}

	if addr, ok := node["address"].(map[string]any); ok {
		parts := []string{
			stringOf(addr["streetAddress"]),
			stringOf(addr["addressLocality"]),
			stringOf(addr["addressRegion"]),
		}
		l.Location = joinNonEmpty(parts[1:], ", ")
		if l.Location == "" {
			l.Location = parts[0]
		}
		l.State = stringOf(addr["addressRegion"])
	} else {
		l.Location = stringOf(node["address"])
	}

	if geo, ok := node["geo"].(map[string]any); ok {
		l.Lat = floatOf(geo["latitude"])
		l.Lng = floatOf(geo["longitude"])
	}

	l.RawSize = areaOf(node["floorSize"])
	l.RawLotSize = areaOf(node["lotSize"])
	l.RawBedrooms = firstString(node["numberOfBedrooms"], node["numberOfRooms"])
	l.RawBathrooms = firstString(node["numberOfBathroomsTotal"], node["numberOfBathrooms"], node["numberOfFullBathrooms"])

	if offer == nil {
		switch o := node["offers"].(type) {
		case map[string]any:
			offer = o
		case []any:
			if len(o) > 0 {
				offer, _ = o[0].(map[string]any)
			}
		}
	}
	if offer != nil {
		l.RawPrice = firstString(offer["price"], offer["lowPrice"])
		l.Currency = strings.ToUpper(stringOf(offer["priceCurrency"]))
		if spec, ok := offer["priceSpecification"].(map[string]any); ok && l.RawPrice == "" {
			l.RawPrice = stringOf(spec["price"])
			l.Currency = strings.ToUpper(stringOf(spec["priceCurrency"]))
		}
	}
	return l
}

// stringOf renders scalars and QuantitativeValue-style objects as text.
func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return firstString(t["value"], t["@value"], t["name"], t["url"])
	}
	return ""
}

func firstString(values ...any) string {
	for _, v := range values {
		if s := stringOf(v); s != "" {
			return s
		}
	}
	return ""
}

func floatOf(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return &f
		}
	}
	return nil
}

// areaOf renders a floorSize as "<value> m2" or "<value> sqft" (unit FTK).
func areaOf(v any) string {
	value := stringOf(v)
	if value == "" {
		return ""
	}
	if m, ok := v.(map[string]any); ok {
		unit := strings.ToUpper(firstString(m["unitCode"], m["unitText"]))
		if unit == "FTK" || strings.Contains(unit, "FT") {
			return value + " sqft"
		}
	}
	return value + " m2"
}

func imagesOf(v any) []string {
	switch t := v.(type) {
	case string:
		if t != "" {
			return []string{t}
		}
	case map[string]any:
		if s := firstString(t["contentUrl"], t["url"]); s != "" {
			return []string{s}
		}
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, imagesOf(e)...)
		}
		return out
	}
	return nil
}

func joinNonEmpty(parts []string, sep string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
