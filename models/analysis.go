package models

import "time"

// Anomaly types reported by price analysis.
const (
	AnomalyPotentialSteal = "potential_steal"
	AnomalyPotentialDeal  = "potential_deal"
	AnomalyOverpriced     = "overpriced"
)

// DealBreakdown holds the per-factor points behind a deal score.
type DealBreakdown struct {
	PriceVsMarket      float64 `json:"price_vs_market"`
	LocationPremium    float64 `json:"location_premium"`
	SizeValue          float64 `json:"size_value"`
	DataQuality        float64 `json:"data_quality"`
	ComparableAnalysis float64 `json:"comparable_analysis"`
}

// DealAnalysis is a 0-100 heuristic score and its breakdown.
type DealAnalysis struct {
	Score     float64       `json:"score"`
	Breakdown DealBreakdown `json:"breakdown"`
}

// ListingAnalysis is the full price-intelligence view of one listing.
type ListingAnalysis struct {
	ListingID         string             `json:"listing_id"`
	PriceMXN          *float64           `json:"price_mxn"`
	SizeM2            *float64           `json:"size_m2"`
	PricePerM2        *float64           `json:"price_per_m2"`
	NeighborhoodStats *NeighborhoodStats `json:"neighborhood_stats"`
	Comparables       []*Comparable      `json:"comparables"`
	DealScore         float64            `json:"deal_score"`
	DealBreakdown     DealBreakdown      `json:"deal_breakdown"`
	IsAnomaly         bool               `json:"is_anomaly"`
	AnomalyType       string             `json:"anomaly_type,omitempty"`
	Recommendation    string             `json:"recommendation"`
}

// ListingDetail is a listing enriched with its analysis, as served by the API.
type ListingDetail struct {
	*Listing
	DealScore         float64            `json:"deal_score"`
	DealBreakdown     DealBreakdown      `json:"deal_breakdown"`
	NeighborhoodStats *NeighborhoodStats `json:"neighborhood_stats"`
	Comparables       []*Comparable      `json:"comparables"`
	Recommendation    string             `json:"recommendation"`
}

// URLAnalysis is a listing read from a portal URL with its price analysis.
type URLAnalysis struct {
	Listing  *Listing         `json:"listing"`
	Analysis *ListingAnalysis `json:"analysis"`
}

// TrendingListing is a recent listing with its deal score.
type TrendingListing struct {
	*Listing
	DealScore      float64 `json:"deal_score"`
	Recommendation string  `json:"recommendation"`
}

// ScenarioProjection is the outcome of one appreciation rate over one horizon.
type ScenarioProjection struct {
	Years         int     `json:"years"`
	PropertyValue float64 `json:"property_value"`
	RentalIncome  float64 `json:"rental_income"`
	TotalReturn   float64 `json:"total_return"`
	ROIPct        float64 `json:"roi_pct"`
}

// AppreciationScenario groups projections for a single appreciation rate.
type AppreciationScenario struct {
	Name        string               `json:"name"`
	Rate        float64              `json:"rate"`
	Projections []ScenarioProjection `json:"projections"`
}

// LeverageAnalysis models a mortgage-financed purchase.
type LeverageAnalysis struct {
	DownPayment        float64 `json:"down_payment"`
	LoanAmount         float64 `json:"loan_amount"`
	InterestRate       float64 `json:"interest_rate"`
	TermYears          int     `json:"term_years"`
	MonthlyPayment     float64 `json:"monthly_payment"`
	AnnualMortgage     float64 `json:"annual_mortgage"`
	NetOperatingIncome float64 `json:"net_operating_income"`
	AnnualCashFlow     float64 `json:"annual_cash_flow"`
	CapRate            float64 `json:"cap_rate"`
	CashOnCashReturn   float64 `json:"cash_on_cash_return"`
}

// InvestmentAnalysis estimates rental yield and returns for a listing.
type InvestmentAnalysis struct {
	ListingID       string                 `json:"listing_id"`
	PriceMXN        float64                `json:"price_mxn"`
	RentalYield     float64                `json:"rental_yield"`
	MonthlyRent     float64                `json:"monthly_rent"`
	AnnualRent      float64                `json:"annual_rent"`
	Scenarios       []AppreciationScenario `json:"scenarios"`
	Leverage        LeverageAnalysis       `json:"leverage"`
	Grade           string                 `json:"grade"`
	RiskFactors     []string               `json:"risk_factors"`
	Recommendations []string               `json:"recommendations"`
}

// ReportSections flags which parts a listing report contains.
type ReportSections struct {
	PropertyOverview      bool `json:"property_overview"`
	MarketAnalysis        bool `json:"market_analysis"`
	InvestmentProjections bool `json:"investment_projections"`
	ComparableProperties  bool `json:"comparable_properties"`
	NeighborhoodInsights  bool `json:"neighborhood_insights"`
}

// ListingReport bundles everything known about a listing.
type ListingReport struct {
	Listing     *ListingDetail      `json:"listing"`
	Analysis    *ListingAnalysis    `json:"analysis"`
	Investment  *InvestmentAnalysis `json:"investment"`
	GeneratedAt time.Time           `json:"generated_at"`
	Sections    ReportSections      `json:"sections"`
}

// InsightReport holds aggregated statistics over a batch of listings.
type InsightReport struct {
	TotalListings     int
	BySource          map[string]int
	AveragePrice      float64
	MinPrice          float64
	MaxPrice          float64
	AvgPricePerM2     float64
	MostExpensive     *Listing
	TopQuality        []*Listing
	ListingsByCity    map[string]int
	ListingsByColonia map[string]int
}
