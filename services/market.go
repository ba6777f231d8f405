package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const (
	defaultTrendMonths  = 12
	maxTrendMonths      = 24
	overviewTrendMonths = 6
	premiumColonias     = 10
	affordableColonias  = 5
	minColoniaListings  = 3
)

// MarketData is the read side of the listing store used by the analysis
// services.
type MarketData interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	NeighborhoodStats(ctx context.Context, city, colonia, propertyType string) (*models.NeighborhoodStats, error)
	FindComparables(ctx context.Context, id string, limit int) ([]*models.Comparable, error)
	ActiveListings(ctx context.Context, filters models.ListingFilters, limit int) ([]*models.Listing, error)
	CityStats(ctx context.Context, city string) (*models.CityStats, error)
	ColoniaRanking(ctx context.Context, city string, minCount, limit int, desc bool) ([]models.ColoniaStats, error)
	PropertyTypeBreakdown(ctx context.Context, city, colonia string) ([]models.PropertyTypeStats, error)
	MarketTrends(ctx context.Context, city, propertyType string, months int) ([]models.MarketTrend, error)
	MostFrequentCity(ctx context.Context, colonia string) (string, error)
}

// Market answers city- and neighborhood-level questions.
type Market struct {
	store  MarketData
	intel  *Intelligence
	logger *utils.Logger
}

// NewMarket creates a Market service.
func NewMarket(store MarketData, intel *Intelligence, logger *utils.Logger) *Market {
	return &Market{store: store, intel: intel, logger: logger}
}

// CityOverview summarises the market of one city.
func (m *Market) CityOverview(ctx context.Context, city string) (*models.CityOverview, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "city is required")
	}

	stats, err := m.store.CityStats(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", city, err)
	}
	if stats == nil || stats.ListingCount == 0 {
		return nil, utils.NewError(utils.ErrNotFound, "no listings for city %q", city)
	}

	premium, err := m.store.ColoniaRanking(ctx, city, minColoniaListings, premiumColonias, true)
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", city, err)
	}
	affordable, err := m.store.ColoniaRanking(ctx, city, minColoniaListings, affordableColonias, false)
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", city, err)
	}
	types, err := m.store.PropertyTypeBreakdown(ctx, city, "")
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", city, err)
	}
	trends, err := m.store.MarketTrends(ctx, city, "", overviewTrendMonths)
	if err != nil {
		return nil, fmt.Errorf("overview %s: %w", city, err)
	}

	return &models.CityOverview{
		City:                 city,
		Stats:                stats,
		PremiumColonias:      nonNil(premium),
		AffordableColonias:   nonNil(affordable),
		PropertyDistribution: nonNil(types),
		RecentTrends:         nonNil(trends),
	}, nil
}

// CompareNeighborhoods compares 2 or 3 colonias side by side. When city is
// empty it is taken from the first colonia that has listings.
func (m *Market) CompareNeighborhoods(ctx context.Context, colonias []string, city string) (*models.NeighborhoodComparison, error) {
	var names []string
	for _, c := range colonias {
		if c = strings.TrimSpace(c); c != "" {
			names = append(names, c)
		}
	}
	if len(names) < 2 || len(names) > 3 {
		return nil, utils.NewError(utils.ErrInvalidInput, "must compare between 2 and 3 colonias")
	}

	city = strings.TrimSpace(city)
	result := &models.NeighborhoodComparison{Neighborhoods: []models.NeighborhoodProfile{}}

	for _, colonia := range names {
		if city == "" {
			found, err := m.store.MostFrequentCity(ctx, colonia)
			if err != nil {
				return nil, fmt.Errorf("compare: %w", err)
			}
			if found == "" {
				m.logger.Debug("[market] No city found for colonia %s", colonia)
				continue
			}
			city = found
		}

		stats, err := m.store.NeighborhoodStats(ctx, city, colonia, "")
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		if stats == nil {
			continue
		}
		types, err := m.store.PropertyTypeBreakdown(ctx, city, colonia)
		if err != nil {
			return nil, fmt.Errorf("compare: %w", err)
		}
		result.Neighborhoods = append(result.Neighborhoods, models.NeighborhoodProfile{
			Colonia:       colonia,
			City:          city,
			Stats:         stats,
			PropertyTypes: nonNil(types),
		})
	}
	result.City = city

	if len(result.Neighborhoods) >= 2 {
		result.Summary = summarize(result.Neighborhoods)
	}
	return result, nil
}

func summarize(profiles []models.NeighborhoodProfile) *models.ComparisonSummary {
	first := profiles[0]
	s := &models.ComparisonSummary{
		MostExpensive:  first.Colonia,
		MostAffordable: first.Colonia,
		MostInventory:  first.Colonia,
		LeastInventory: first.Colonia,
	}
	maxPrice, minPrice := first.Stats.AvgPriceMXN, first.Stats.AvgPriceMXN
	maxCount, minCount := first.Stats.ListingCount, first.Stats.ListingCount

	var maxPPM, minPPM float64
	for _, p := range profiles {
		if p.Stats.AvgPriceMXN > maxPrice {
			maxPrice, s.MostExpensive = p.Stats.AvgPriceMXN, p.Colonia
		}
		if p.Stats.AvgPriceMXN < minPrice {
			minPrice, s.MostAffordable = p.Stats.AvgPriceMXN, p.Colonia
		}
		if p.Stats.ListingCount > maxCount {
			maxCount, s.MostInventory = p.Stats.ListingCount, p.Colonia
		}
		if p.Stats.ListingCount < minCount {
			minCount, s.LeastInventory = p.Stats.ListingCount, p.Colonia
		}
		if ppm := p.Stats.AvgPricePerM2; ppm != nil && *ppm > 0 {
			if maxPPM == 0 || *ppm > maxPPM {
				maxPPM = *ppm
			}
			if minPPM == 0 || *ppm < minPPM {
				minPPM = *ppm
			}
		}
	}
	if minPPM > 0 {
		s.PriceDifferencePct = round1((maxPPM - minPPM) / minPPM * 100)
	}
	return s
}

// MarketTrends returns monthly aggregates for a city, newest first.
// months is clamped to 1..24 with 12 as the default.
func (m *Market) MarketTrends(ctx context.Context, city, propertyType string, months int) ([]models.MarketTrend, error) {
	if strings.TrimSpace(city) == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "city is required")
	}
	switch {
	case months <= 0:
		months = defaultTrendMonths
	case months > maxTrendMonths:
		months = maxTrendMonths
	}
	trends, err := m.store.MarketTrends(ctx, city, propertyType, months)
	if err != nil {
		return nil, fmt.Errorf("trends %s: %w", city, err)
	}
	return nonNil(trends), nil
}

// Report bundles detail, analysis and investment projections for a listing.
// A failed investment analysis leaves Investment nil.
func (m *Market) Report(ctx context.Context, id string) (*models.ListingReport, error) {
	detail, analysis, err := m.intel.ListingDetail(ctx, id)
	if err != nil {
		return nil, err
	}

	investment, err := AnalyzeInvestment(detail.Listing)
	if err != nil {
		m.logger.Debug("[market] No investment analysis for %s: %v", id, err)
		investment = nil
	}

	return &models.ListingReport{
		Listing:     detail,
		Analysis:    analysis,
		Investment:  investment,
		GeneratedAt: time.Now().UTC(),
		Sections: models.ReportSections{
			PropertyOverview:      true,
			MarketAnalysis:        analysis.NeighborhoodStats != nil,
			InvestmentProjections: investment != nil,
			ComparableProperties:  len(analysis.Comparables) > 0,
			NeighborhoodInsights:  detail.Colonia != "",
		},
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
