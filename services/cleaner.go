package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"polpi-mx/models"
	"polpi-mx/utils"
)

// DefaultUSDRate is the MXN per USD rate used when none is configured.
const DefaultUSDRate = 17.0

const sqftToM2 = 0.092903

var (
	// priceRegexp captures the first numeric amount, allowing comma thousands
	priceRegexp = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// dotThousandsRegexp matches "3.500.000" style amounts
	dotThousandsRegexp = regexp.MustCompile(`\d{1,3}(?:\.\d{3}){2,}`)
	millionsRegexp     = regexp.MustCompile(`(?i)\d\s*(?:m|mdp|mill[oó]n(?:es)?)\b`)
	// monedaNacionalRegexp matches the "M.N." / "MN" peso suffix, which is not a million marker
	monedaNacionalRegexp = regexp.MustCompile(`(?i)\bm\.?\s*n\b\.?`)
	thousandsRegexp      = regexp.MustCompile(`(?i)\d\s*k\b`)
	usdRegexp            = regexp.MustCompile(`(?i)(\busd\b|us\$|\bdlls?\b|d[oó]lares)`)

	numberRegexp    = regexp.MustCompile(`\d+(?:\.\d+)?`)
	intRegexp       = regexp.MustCompile(`\d+`)
	bedroomsRegexp  = regexp.MustCompile(`(?i)(\d+)\s*(?:rec[aá]maras?|habitaci[oó]n(?:es)?|dormitorios?|bedrooms?)`)
	bathroomsRegexp = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:ba[ñn]os?|baths?)`)
	parkingRegexp   = regexp.MustCompile(`(?i)(\d+)\s*(?:estacionamientos?|caj[oó]n(?:es)?|lugares? de estacionamiento|parking)`)
	sizeRegexp      = regexp.MustCompile(`(?i)([\d,.]+)\s*m(?:²|2|ts2|etros cuadrados)`)
	sqftRegexp      = regexp.MustCompile(`(?i)([\d,.]+)\s*(?:sq\.?\s*ft|ft²|ft2|pies)`)
)

// propertyTypeKeywords is checked in order; the first category with a word
// starting with one of its keywords wins.
var propertyTypeKeywords = []struct {
	category string
	keywords []string
}{
	{models.TypeCasa, []string{"casa", "residencia", "villa", "chalet", "house"}},
	{models.TypeDepartamento, []string{"departamento", "depto", "apartamento", "piso", "condo", "penthouse", "apartment", "loft"}},
	{models.TypeTerreno, []string{"terreno", "lote", "solar", "land"}},
	{models.TypeOficina, []string{"oficina", "consultorio", "office"}},
	{models.TypeBodega, []string{"bodega", "nave", "almacen", "warehouse"}},
	{models.TypeLocalComercial, []string{"local", "comercial"}},
}

// Cleaner transforms RawListings into clean, validated Listings.
type Cleaner struct {
	logger    *utils.Logger
	usdRate   float64
	amenities *AmenityMatcher
}

// NewCleaner creates a Cleaner. A non-positive usdRate selects DefaultUSDRate.
func NewCleaner(logger *utils.Logger, usdRate float64) *Cleaner {
	if usdRate <= 0 {
		usdRate = DefaultUSDRate
	}
	return &Cleaner{
		logger:    logger,
		usdRate:   usdRate,
		amenities: NewAmenityMatcher(),
	}
}

// Clean processes raw listings and returns cleaned records.
func (c *Cleaner) Clean(raw []*models.RawListing) []*models.Listing {
	seen := make(map[string]struct{})
	result := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		url := strings.TrimSpace(r.URL)
		if url == "" {
			c.logger.Warn("[cleaner] Dropping listing with empty URL: %s", r.Title)
			continue
		}

		if _, dup := seen[url]; dup {
			c.logger.Debug("[cleaner] Duplicate URL skipped: %s", url)
			continue
		}
		seen[url] = struct{}{}

		result = append(result, c.cleanOne(r, url))
	}

	c.logger.Info("[cleaner] Cleaned %d → %d listings (dropped %d)",
		len(raw), len(result), len(raw)-len(result))
	return result
}

func (c *Cleaner) cleanOne(r *models.RawListing, url string) *models.Listing {
	title := normaliseText(r.Title)
	description := normaliseText(r.Description)
	text := title + " " + description

	l := &models.Listing{
		Source:      normaliseSource(r.Source),
		SourceID:    strings.TrimSpace(r.SourceID),
		URL:         url,
		Title:       title,
		Description: description,
		AgentName:   normaliseText(r.AgentName),
		AgentPhone:  strings.TrimSpace(r.AgentPhone),
		ListedDate:  strings.TrimSpace(r.ListedDate),
		Lat:         r.Lat,
		Lng:         r.Lng,
		Images:      cleanImages(r.Images),
		RawData:     models.JSONMap(r.RawData),
		IsActive:    true,
	}

	l.PriceMXN, l.PriceUSD = c.ParsePrice(r.RawPrice, r.Currency)

	l.Bedrooms = ExtractInt(r.RawBedrooms)
	if l.Bedrooms == nil {
		l.Bedrooms = matchInt(bedroomsRegexp, text)
	}
	l.Bathrooms = extractBathrooms(r.RawBathrooms)
	if l.Bathrooms == nil {
		l.Bathrooms = extractBathrooms(firstGroup(bathroomsRegexp, text))
	}
	l.ParkingSpaces = ExtractInt(r.RawParking)
	if l.ParkingSpaces == nil {
		l.ParkingSpaces = matchInt(parkingRegexp, text)
	}

	l.SizeM2 = ParseArea(r.RawSize)
	if l.SizeM2 == nil {
		l.SizeM2 = areaFromText(text)
	}
	l.LotSizeM2 = ParseArea(r.RawLotSize)

	l.PropertyType = NormalizePropertyType(r.PropertyTypeHint)
	if l.PropertyType == models.TypeOtro {
		l.PropertyType = NormalizePropertyType(title)
	}

	colonia, city, state := SplitLocation(r.Location)
	l.Colonia = TitleCase(normaliseText(firstNonEmpty(r.Colonia, colonia)))
	l.City = CanonicalCity(firstNonEmpty(r.City, city))
	l.State = CanonicalCity(firstNonEmpty(r.State, state))
	if l.State == "" && l.City == CanonicalCDMX {
		l.State = CanonicalCDMX
	}

	l.Amenities = c.amenities.Extract(text)

	scraped := r.ScrapedAt
	if scraped.IsZero() {
		scraped = time.Now()
	}
	l.ScrapedDate = scraped.UTC().Format(time.RFC3339)

	l.ID = GenerateID(l.Source, l.URL, l.Title)
	l.DataQualityScore = QualityScore(l)
	return l
}

// ParsePrice extracts an amount and returns it in both currencies.
// Examples:
//
//	"$3,500,000 MXN"  → 3500000 MXN
//	"2.5 millones"    → 2500000 MXN
//	"USD 250,000"     → 4250000 MXN at 17.0
func (c *Cleaner) ParsePrice(raw, currency string) (mxn, usd *float64) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var amount float64
	if m := dotThousandsRegexp.FindString(raw); m != "" {
		amount, _ = strconv.ParseFloat(strings.ReplaceAll(m, ".", ""), 64)
	} else {
		match := priceRegexp.FindString(raw)
		if match == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
		if err != nil {
			return nil, nil
		}
		amount = v
	}

	scale := monedaNacionalRegexp.ReplaceAllString(raw, "")
	switch {
	case millionsRegexp.MatchString(scale):
		amount *= 1_000_000
	case thousandsRegexp.MatchString(scale):
		amount *= 1_000
	}
	if amount <= 0 {
		return nil, nil
	}

	isUSD := strings.EqualFold(currency, "USD") || usdRegexp.MatchString(raw)
	if isUSD {
		c.logger.Debug("[cleaner] USD price detected: %s", raw)
		return models.Float64(round2(amount * c.usdRate)), models.Float64(round2(amount))
	}
	return models.Float64(round2(amount)), models.Float64(round2(amount / c.usdRate))
}

// ExtractNumber strips currency and unit markers and returns the first number.
func ExtractNumber(text string) *float64 {
	r := strings.NewReplacer("$", "", ",", "", "MXN", "", "USD", "", "m²", "", "m2", "")
	match := numberRegexp.FindString(r.Replace(text))
	if match == "" {
		return nil
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ExtractInt returns the first integer in text.
func ExtractInt(text string) *int {
	match := intRegexp.FindString(text)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil || n > 100 {
		return nil
	}
	return &n
}

// ParseArea reads a surface in m², converting square feet when marked.
func ParseArea(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	v := ExtractNumber(text)
	if v == nil || *v <= 0 {
		return nil
	}
	if strings.Contains(lower, "ft") || strings.Contains(lower, "sq") || strings.Contains(lower, "pies") {
		return models.Float64(round2(*v * sqftToM2))
	}
	return models.Float64(round2(*v))
}

// NormalizePropertyType maps free text onto one of the canonical types.
func NormalizePropertyType(raw string) string {
	key := NormalizeKey(raw)
	if key == "" {
		return models.TypeOtro
	}
	words := strings.Fields(key)
	for _, pt := range propertyTypeKeywords {
		for _, kw := range pt.keywords {
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return pt.category
				}
			}
		}
	}
	return models.TypeOtro
}

// SplitLocation splits "Colonia, City[, State]" text. A part naming a known
// city wins the city slot regardless of position.
func SplitLocation(text string) (colonia, city, state string) {
	var parts []string
	for _, p := range strings.Split(text, ",") {
		if p = normaliseText(p); p != "" {
			parts = append(parts, p)
		}
	}

	switch len(parts) {
	case 0:
		return "", "", ""
	case 1:
		if _, known := cityAliases[NormalizeKey(parts[0])]; known {
			return "", parts[0], ""
		}
		return parts[0], "", ""
	}

	colonia = parts[0]
	for i := len(parts) - 1; i >= 1; i-- {
		if _, known := cityAliases[NormalizeKey(parts[i])]; known {
			return colonia, parts[i], ""
		}
	}
	city = parts[1]
	if len(parts) > 2 {
		state = parts[len(parts)-1]
	}
	return colonia, city, state
}

func areaFromText(text string) *float64 {
	if m := sizeRegexp.FindStringSubmatch(text); len(m) >= 2 {
		if v := ParseArea(m[1]); v != nil && *v < 1_000_000 {
			return v
		}
	}
	if m := sqftRegexp.FindStringSubmatch(text); len(m) >= 2 {
		return ParseArea(m[1] + " sqft")
	}
	return nil
}

func extractBathrooms(text string) *int {
	v := ExtractNumber(text)
	if v == nil || *v > 50 {
		return nil
	}
	n := int(*v)
	return &n
}

func matchInt(re *regexp.Regexp, text string) *int {
	return ExtractInt(firstGroup(re, text))
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func cleanImages(images []string) models.StringList {
	seen := make(map[string]struct{}, len(images))
	var out models.StringList
	for _, img := range images {
		img = strings.TrimSpace(img)
		if img == "" || strings.HasPrefix(img, "data:") {
			continue
		}
		if _, dup := seen[img]; dup {
			continue
		}
		seen[img] = struct{}{}
		out = append(out, img)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func normaliseSource(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
