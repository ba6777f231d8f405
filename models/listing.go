package models

import "time"

// Canonical property types.
const (
	TypeCasa           = "casa"
	TypeDepartamento   = "departamento"
	TypeTerreno        = "terreno"
	TypeOficina        = "oficina"
	TypeBodega         = "bodega"
	TypeLocalComercial = "local_comercial"
	TypeOtro           = "otro"
)

// RawListing holds unprocessed scraped data exactly as a source produced it.
// It is written to the raw CSV audit file before any cleaning.
type RawListing struct {
	Source   string
	SourceID string
	URL      string
	Title    string

	RawPrice     string
	Currency     string // "MXN", "USD" or empty when unknown
	RawSize      string
	RawLotSize   string
	RawBedrooms  string
	RawBathrooms string
	RawParking   string

	Location string // free text such as "Roma Norte, Cuauhtémoc, CDMX"
	Colonia  string
	City     string
	State    string

	PropertyTypeHint string
	Description      string
	Images           []string
	AgentName        string
	AgentPhone       string
	ListedDate       string

	Lat *float64
	Lng *float64

	ScrapedAt time.Time
	RawData   map[string]any
}

// Listing is the cleaned record stored in the listings table.
// Nullable columns are pointers so "unknown" and zero stay distinct.
type Listing struct {
	ID       string `db:"id" json:"id"`
	Source   string `db:"source" json:"source"`
	SourceID string `db:"source_id" json:"source_id,omitempty"`
	URL      string `db:"url" json:"url"`
	Title    string `db:"title" json:"title"`

	PriceMXN     *float64 `db:"price_mxn" json:"price_mxn"`
	PriceUSD     *float64 `db:"price_usd" json:"price_usd"`
	PropertyType string   `db:"property_type" json:"property_type"`
	Bedrooms     *int     `db:"bedrooms" json:"bedrooms"`
	Bathrooms    *int     `db:"bathrooms" json:"bathrooms"`
	SizeM2       *float64 `db:"size_m2" json:"size_m2"`
	LotSizeM2    *float64 `db:"lot_size_m2" json:"lot_size_m2"`

	State   string   `db:"state" json:"state,omitempty"`
	City    string   `db:"city" json:"city"`
	Colonia string   `db:"colonia" json:"colonia"`
	Lat     *float64 `db:"lat" json:"lat"`
	Lng     *float64 `db:"lng" json:"lng"`

	Description   string     `db:"description" json:"description,omitempty"`
	Images        StringList `db:"images" json:"images"`
	AgentName     string     `db:"agent_name" json:"agent_name,omitempty"`
	AgentPhone    string     `db:"agent_phone" json:"agent_phone,omitempty"`
	ListedDate    string     `db:"listed_date" json:"listed_date,omitempty"`
	ScrapedDate   string     `db:"scraped_date" json:"scraped_date"`
	Amenities     StringList `db:"amenities" json:"amenities"`
	ParkingSpaces *int       `db:"parking_spaces" json:"parking_spaces"`

	DataQualityScore float64 `db:"data_quality_score" json:"data_quality_score"`
	RawData          JSONMap `db:"raw_data" json:"-"`
	IsActive         bool    `db:"is_active" json:"is_active"`
	ViewsCount       int     `db:"views_count" json:"views_count"`

	// PricePerM2 is computed by queries, never stored.
	PricePerM2 *float64 `db:"price_per_m2" json:"price_per_m2"`
}

// HasPriceAndSize reports whether price-per-m² style analysis is possible.
func (l *Listing) HasPriceAndSize() bool {
	return l.PriceMXN != nil && *l.PriceMXN > 0 && l.SizeM2 != nil && *l.SizeM2 > 0
}

// Price returns price_mxn or 0.
func (l *Listing) Price() float64 {
	if l.PriceMXN == nil {
		return 0
	}
	return *l.PriceMXN
}

// Size returns size_m2 or 0.
func (l *Listing) Size() float64 {
	if l.SizeM2 == nil {
		return 0
	}
	return *l.SizeM2
}

// ListingFilters narrows paginated listing queries. Nil pointers mean "no filter".
type ListingFilters struct {
	City         string
	Colonia      string
	PropertyType string
	MinPrice     *float64
	MaxPrice     *float64
	Bedrooms     *int // minimum
	Bathrooms    *int // minimum
	MinSize      *float64
	MaxSize      *float64
}

// SortOrder selects the ORDER BY of listing queries.
type SortOrder string

const (
	SortNewest     SortOrder = "newest"
	SortPrice      SortOrder = "price"
	SortPriceDesc  SortOrder = "price_desc"
	SortSize       SortOrder = "size"
	SortPricePerM2 SortOrder = "price_per_m2"
	SortDealScore  SortOrder = "deal_score"
)

// ValidSort reports whether s is a known sort order.
func ValidSort(s string) bool {
	switch SortOrder(s) {
	case SortNewest, SortPrice, SortPriceDesc, SortSize, SortPricePerM2, SortDealScore:
		return true
	}
	return false
}

// Page is one page of listings plus navigation metadata.
type Page struct {
	Listings   []*Listing `json:"listings"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	TotalPages int        `json:"total_pages"`
	HasNext    bool       `json:"has_next"`
	HasPrev    bool       `json:"has_prev"`
}

// NewPage fills in the derived navigation fields.
func NewPage(listings []*Listing, total, page, perPage int) *Page {
	if listings == nil {
		listings = []*Listing{}
	}
	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	return &Page{
		Listings:   listings,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		HasNext:    page*perPage < total,
		HasPrev:    page > 1,
	}
}

// PriceHistoryEntry is one recorded price observation.
type PriceHistoryEntry struct {
	ListingID    string   `db:"listing_id" json:"listing_id"`
	PriceMXN     *float64 `db:"price_mxn" json:"price_mxn"`
	PriceUSD     *float64 `db:"price_usd" json:"price_usd"`
	RecordedDate string   `db:"recorded_date" json:"recorded_date"`
	Source       string   `db:"source" json:"source"`
}

// DuplicatePair links a listing to the canonical copy of the same property
// seen on another source.
type DuplicatePair struct {
	CanonicalID string  `db:"canonical_id" json:"canonical_id"`
	DuplicateID string  `db:"duplicate_id" json:"duplicate_id"`
	Confidence  float64 `db:"confidence" json:"confidence"`
}

// ScrapeRun records one source's execution inside a pipeline run.
type ScrapeRun struct {
	ID          string    `db:"id" json:"id"`
	Source      string    `db:"source" json:"source"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
	RawCount    int       `db:"raw_count" json:"raw_count"`
	StoredCount int       `db:"stored_count" json:"stored_count"`
	Error       string    `db:"error" json:"error,omitempty"`
}
