package models

// NeighborhoodStats summarises the priced and sized listings of one
// (city, colonia, property_type) group.
type NeighborhoodStats struct {
	City             string   `db:"city" json:"city"`
	Colonia          string   `db:"colonia" json:"colonia"`
	PropertyType     string   `db:"property_type" json:"property_type"`
	ListingCount     int      `db:"listing_count" json:"listing_count"`
	AvgPriceMXN      float64  `db:"avg_price_mxn" json:"avg_price_mxn"`
	MedianPriceMXN   float64  `db:"median_price_mxn" json:"median_price_mxn"`
	P25PriceMXN      float64  `db:"p25_price_mxn" json:"p25_price_mxn"`
	P75PriceMXN      float64  `db:"p75_price_mxn" json:"p75_price_mxn"`
	P90PriceMXN      float64  `db:"p90_price_mxn" json:"p90_price_mxn"`
	MinPriceMXN      float64  `db:"min_price_mxn" json:"min_price_mxn"`
	MaxPriceMXN      float64  `db:"max_price_mxn" json:"max_price_mxn"`
	AvgPricePerM2    *float64 `db:"avg_price_per_m2" json:"avg_price_per_m2"`
	MedianPricePerM2 *float64 `db:"median_price_per_m2" json:"median_price_per_m2"`
}

// Comparable is a similar listing plus its distance from the subject.
type Comparable struct {
	Listing
	SizeDiff  float64 `db:"size_diff" json:"size_diff"`
	PriceDiff float64 `db:"price_diff" json:"price_diff"`
}

// MarketTrend is one monthly aggregate row. An empty Colonia means city level.
type MarketTrend struct {
	City           string   `db:"city" json:"city"`
	Colonia        string   `db:"colonia" json:"colonia"`
	PropertyType   string   `db:"property_type" json:"property_type"`
	YearMonth      string   `db:"year_month" json:"year_month"`
	AvgPriceMXN    *float64 `db:"avg_price_mxn" json:"avg_price_mxn"`
	AvgPricePerM2  *float64 `db:"avg_price_per_m2" json:"avg_price_per_m2"`
	MedianPriceMXN *float64 `db:"median_price_mxn" json:"median_price_mxn"`
	ListingCount   int      `db:"listing_count" json:"listing_count"`
	CreatedDate    string   `db:"created_date" json:"created_date"`
}

// CityStats aggregates the active listings of one city.
type CityStats struct {
	City          string   `db:"city" json:"city"`
	ListingCount  int      `db:"listing_count" json:"listing_count"`
	AvgPriceMXN   *float64 `db:"avg_price_mxn" json:"avg_price_mxn"`
	AvgPricePerM2 *float64 `db:"avg_price_per_m2" json:"avg_price_per_m2"`
	MinPriceMXN   *float64 `db:"min_price_mxn" json:"min_price_mxn"`
	MaxPriceMXN   *float64 `db:"max_price_mxn" json:"max_price_mxn"`
	AvgSizeM2     *float64 `db:"avg_size_m2" json:"avg_size_m2"`
}

// PropertyTypeStats is one row of a property-type breakdown.
type PropertyTypeStats struct {
	PropertyType  string   `db:"property_type" json:"property_type"`
	Count         int      `db:"count" json:"count"`
	AvgPriceMXN   *float64 `db:"avg_price_mxn" json:"avg_price_mxn"`
	AvgPricePerM2 *float64 `db:"avg_price_per_m2" json:"avg_price_per_m2"`
}

// ColoniaStats ranks a colonia inside a city.
type ColoniaStats struct {
	Colonia       string   `db:"colonia" json:"colonia"`
	ListingCount  int      `db:"listing_count" json:"listing_count"`
	AvgPriceMXN   *float64 `db:"avg_price_mxn" json:"avg_price_mxn"`
	AvgPricePerM2 *float64 `db:"avg_price_per_m2" json:"avg_price_per_m2"`
}

// PlatformStats is the /stats payload.
type PlatformStats struct {
	TotalListings int                 `json:"total_listings"`
	Cities        int                 `json:"cities"`
	Colonias      int                 `json:"colonias"`
	BySource      map[string]int      `json:"by_source"`
	PropertyTypes []PropertyTypeStats `json:"property_types"`
	LastScraped   string              `json:"last_scraped,omitempty"`
}

// CityOverview is the market summary of a single city.
type CityOverview struct {
	City                 string              `json:"city"`
	Stats                *CityStats          `json:"stats"`
	PremiumColonias      []ColoniaStats      `json:"premium_colonias"`
	AffordableColonias   []ColoniaStats      `json:"affordable_colonias"`
	PropertyDistribution []PropertyTypeStats `json:"property_distribution"`
	RecentTrends         []MarketTrend       `json:"recent_trends"`
}

// NeighborhoodProfile is one side of a neighborhood comparison.
type NeighborhoodProfile struct {
	Colonia       string              `json:"colonia"`
	City          string              `json:"city"`
	Stats         *NeighborhoodStats  `json:"stats"`
	PropertyTypes []PropertyTypeStats `json:"property_types"`
}

// ComparisonSummary highlights the extremes among compared colonias.
type ComparisonSummary struct {
	MostExpensive      string  `json:"most_expensive"`
	MostAffordable     string  `json:"most_affordable"`
	MostInventory      string  `json:"most_inventory"`
	LeastInventory     string  `json:"least_inventory"`
	PriceDifferencePct float64 `json:"price_difference_pct"`
}

// NeighborhoodComparison is the result of comparing 2 or 3 colonias.
type NeighborhoodComparison struct {
	City          string                `json:"city"`
	Neighborhoods []NeighborhoodProfile `json:"neighborhoods"`
	Summary       *ComparisonSummary    `json:"summary"`
}
