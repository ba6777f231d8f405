package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const (
	analysisComparables = 5
	trendingComparables = 3
	trendingPool        = 100
	defaultTrending     = 10
)

// Intelligence scores listings against their neighborhood market.
type Intelligence struct {
	store  MarketData
	logger *utils.Logger
}

// NewIntelligence creates an Intelligence service backed by store.
func NewIntelligence(store MarketData, logger *utils.Logger) *Intelligence {
	return &Intelligence{store: store, logger: logger}
}

// PricePerM2 returns price / size rounded to 2 decimals, or nil when either
// is unknown.
func PricePerM2(l *models.Listing) *float64 {
	if !l.HasPriceAndSize() {
		return nil
	}
	return models.Float64(round2(*l.PriceMXN / *l.SizeM2))
}

// DealScore computes the 0-100 heuristic score of a listing.
func DealScore(l *models.Listing, stats *models.NeighborhoodStats, comparables []*models.Comparable) models.DealAnalysis {
	if !l.HasPriceAndSize() {
		return models.DealAnalysis{
			Score: 50,
			Breakdown: models.DealBreakdown{
				PriceVsMarket: 50,
				DataQuality:   25,
			},
		}
	}

	b := models.DealBreakdown{PriceVsMarket: 50}
	ppm2 := *l.PriceMXN / *l.SizeM2
	price := *l.PriceMXN

	if stats != nil && stats.AvgPricePerM2 != nil && *stats.AvgPricePerM2 > 0 {
		avg := *stats.AvgPricePerM2
		if ppm2 < avg {
			b.PriceVsMarket = math.Min(100, 50+(avg-ppm2)/avg*100)
		} else {
			b.PriceVsMarket = math.Max(0, 50-(ppm2-avg)/avg*100)
		}
	}

	if stats != nil && stats.P75PriceMXN > 0 {
		switch {
		case price >= stats.P75PriceMXN:
			b.LocationPremium = 15
		case price >= stats.MedianPriceMXN:
			b.LocationPremium = 10
		default:
			b.LocationPremium = 5
		}
	}

	switch size := *l.SizeM2; {
	case size >= 150:
		b.SizeValue = 15
	case size >= 100:
		b.SizeValue = 12
	case size >= 70:
		b.SizeValue = 8
	default:
		b.SizeValue = 5
	}

	b.DataQuality = l.DataQualityScore * 15

	var compPrices []float64
	for _, c := range comparables {
		if p := PricePerM2(&c.Listing); p != nil {
			compPrices = append(compPrices, *p)
		}
	}
	if len(compPrices) > 0 {
		median := Median(compPrices)
		switch {
		case ppm2 <= median*0.9:
			b.ComparableAnalysis = 10
		case ppm2 <= median*0.95:
			b.ComparableAnalysis = 8
		case ppm2 <= median*1.05:
			b.ComparableAnalysis = 5
		default:
			b.ComparableAnalysis = 2
		}
	}

	total := b.PriceVsMarket + b.LocationPremium + b.SizeValue + b.DataQuality + b.ComparableAnalysis
	b.PriceVsMarket = round1(b.PriceVsMarket)
	b.DataQuality = round1(b.DataQuality)

	return models.DealAnalysis{
		Score:     math.Max(0, math.Min(100, round1(total))),
		Breakdown: b,
	}
}

// DetectAnomaly flags listings priced far outside their neighborhood.
func DetectAnomaly(l *models.Listing, stats *models.NeighborhoodStats) (bool, string) {
	if stats == nil || stats.AvgPricePerM2 == nil || *stats.AvgPricePerM2 <= 0 {
		return false, ""
	}
	ppm2 := PricePerM2(l)
	if ppm2 == nil {
		return false, ""
	}

	if stats.P25PriceMXN > 0 && stats.P75PriceMXN > 0 {
		price := *l.PriceMXN
		if price < stats.P25PriceMXN*0.7 {
			return true, models.AnomalyPotentialSteal
		}
		if price > stats.P75PriceMXN*1.3 {
			return true, models.AnomalyOverpriced
		}
	}

	avg := *stats.AvgPricePerM2
	if math.Abs(*ppm2-avg)/avg > 0.5 {
		if *ppm2 > avg {
			return true, models.AnomalyOverpriced
		}
		return true, models.AnomalyPotentialDeal
	}
	return false, ""
}

// Recommendation turns a score and anomaly verdict into advice for buyers.
func Recommendation(score float64, anomaly bool, anomalyType string) string {
	if anomaly {
		switch anomalyType {
		case models.AnomalyPotentialSteal:
			return "¡Oportunidad excepcional! Precio muy por debajo del mercado."
		case models.AnomalyPotentialDeal:
			return "¡Excelente oportunidad! Este precio está significativamente por debajo del promedio."
		case models.AnomalyOverpriced:
			return "Precio elevado. Esta propiedad está significativamente por encima del mercado."
		}
	}
	switch {
	case score >= 80:
		return "Excelente inversión - precio muy competitivo vs mercado."
	case score >= 65:
		return "Buen precio comparado con el mercado local."
	case score >= 45:
		return "Precio dentro del rango de mercado."
	default:
		return "Precio por encima del promedio. Considera negociar o evaluar otros factores."
	}
}

// AnalyzeListing runs the full price analysis for one listing.
func (i *Intelligence) AnalyzeListing(ctx context.Context, id string) (*models.ListingAnalysis, error) {
	l, err := i.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	return i.analyze(ctx, l)
}

func (i *Intelligence) analyze(ctx context.Context, l *models.Listing) (*models.ListingAnalysis, error) {
	comps, err := i.store.FindComparables(ctx, l.ID, analysisComparables)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", l.ID, err)
	}
	return i.score(ctx, l, comps)
}

// score builds the analysis of l from its neighborhood stats and comps.
func (i *Intelligence) score(ctx context.Context, l *models.Listing, comps []*models.Comparable) (*models.ListingAnalysis, error) {
	stats, err := i.store.NeighborhoodStats(ctx, l.City, l.Colonia, l.PropertyType)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", l.ID, err)
	}
	if comps == nil {
		comps = []*models.Comparable{}
	}

	deal := DealScore(l, stats, comps)
	anomaly, anomalyType := DetectAnomaly(l, stats)

	return &models.ListingAnalysis{
		ListingID:         l.ID,
		PriceMXN:          l.PriceMXN,
		SizeM2:            l.SizeM2,
		PricePerM2:        PricePerM2(l),
		NeighborhoodStats: stats,
		Comparables:       comps,
		DealScore:         deal.Score,
		DealBreakdown:     deal.Breakdown,
		IsAnomaly:         anomaly,
		AnomalyType:       anomalyType,
		Recommendation:    Recommendation(deal.Score, anomaly, anomalyType),
	}, nil
}

// ListingDetail returns a listing merged with its analysis.
func (i *Intelligence) ListingDetail(ctx context.Context, id string) (*models.ListingDetail, *models.ListingAnalysis, error) {
	l, err := i.store.GetListing(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	analysis, err := i.analyze(ctx, l)
	if err != nil {
		return nil, nil, err
	}
	l.PricePerM2 = analysis.PricePerM2

	return &models.ListingDetail{
		Listing:           l,
		DealScore:         analysis.DealScore,
		DealBreakdown:     analysis.DealBreakdown,
		NeighborhoodStats: analysis.NeighborhoodStats,
		Comparables:       analysis.Comparables,
		Recommendation:    analysis.Recommendation,
	}, analysis, nil
}

// TrendingListings scores the newest listings and returns the best deals.
func (i *Intelligence) TrendingListings(ctx context.Context, city string, limit int) ([]*models.TrendingListing, error) {
	if limit <= 0 {
		limit = defaultTrending
	}

	recent, err := i.store.ActiveListings(ctx, models.ListingFilters{City: city}, trendingPool)
	if err != nil {
		return nil, fmt.Errorf("trending: %w", err)
	}

	scored := make([]*models.TrendingListing, 0, len(recent))
	for _, l := range recent {
		if !l.HasPriceAndSize() {
			continue
		}
		stats, err := i.store.NeighborhoodStats(ctx, l.City, l.Colonia, l.PropertyType)
		if err != nil {
			return nil, fmt.Errorf("trending: %w", err)
		}
		comps, err := i.store.FindComparables(ctx, l.ID, trendingComparables)
		if err != nil {
			return nil, fmt.Errorf("trending: %w", err)
		}

		deal := DealScore(l, stats, comps)
		anomaly, anomalyType := DetectAnomaly(l, stats)
		l.PricePerM2 = PricePerM2(l)
		scored = append(scored, &models.TrendingListing{
			Listing:        l,
			DealScore:      deal.Score,
			Recommendation: Recommendation(deal.Score, anomaly, anomalyType),
		})
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].DealScore > scored[b].DealScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	i.logger.Debug("[intelligence] Scored %d of %d recent listings", len(scored), len(recent))
	return scored, nil
}
