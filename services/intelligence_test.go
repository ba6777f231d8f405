package services

import (
	"context"
	"testing"

	"polpi-mx/models"
	"polpi-mx/utils"
)

func listing(id string, price, size float64) *models.Listing {
	return &models.Listing{
		ID:               id,
		Source:           "lamudi",
		City:             CanonicalCDMX,
		Colonia:          "Roma Norte",
		PropertyType:     models.TypeDepartamento,
		PriceMXN:         models.Float64(price),
		SizeM2:           models.Float64(size),
		DataQualityScore: 0.6,
		IsActive:         true,
	}
}

func comparable(price, size float64) *models.Comparable {
	return &models.Comparable{Listing: *listing("c", price, size)}
}

func TestDealScoreMissingData(t *testing.T) {
	l := &models.Listing{PriceMXN: models.Float64(1e6)}
	got := DealScore(l, nil, nil)
	if got.Score != 50 || got.Breakdown.PriceVsMarket != 50 || got.Breakdown.DataQuality != 25 {
		t.Errorf("unexpected fallback: %+v", got)
	}
	if got.Breakdown.SizeValue != 0 || got.Breakdown.LocationPremium != 0 {
		t.Errorf("fallback should zero other factors: %+v", got.Breakdown)
	}
}

func TestDealScoreBreakdown(t *testing.T) {
	// 80,000/m² listing in a 100,000/m² neighborhood.
	l := listing("a", 8e6, 100)
	stats := &models.NeighborhoodStats{
		AvgPricePerM2:  models.Float64(100000),
		MedianPriceMXN: 6e6,
		P25PriceMXN:    4e6,
		P75PriceMXN:    9e6,
	}
	comps := []*models.Comparable{comparable(9e6, 100), comparable(1e7, 100), comparable(1.1e7, 100)}

	got := DealScore(l, stats, comps)
	b := got.Breakdown
	if b.PriceVsMarket != 70 {
		t.Errorf("PriceVsMarket = %v; want 70", b.PriceVsMarket)
	}
	if b.LocationPremium != 10 {
		t.Errorf("LocationPremium = %v; want 10", b.LocationPremium)
	}
	if b.SizeValue != 12 {
		t.Errorf("SizeValue = %v; want 12", b.SizeValue)
	}
	if b.DataQuality != 9 {
		t.Errorf("DataQuality = %v; want 9", b.DataQuality)
	}
	if b.ComparableAnalysis != 10 {
		t.Errorf("ComparableAnalysis = %v; want 10", b.ComparableAnalysis)
	}
	if got.Score != 100 {
		t.Errorf("Score = %v; want clamped 100 (sum 111)", got.Score)
	}
}

func TestDealScorePremiumListing(t *testing.T) {
	// 150,000/m² vs 100,000/m²: 50% premium.
	l := listing("a", 9e6, 60)
	stats := &models.NeighborhoodStats{AvgPricePerM2: models.Float64(100000)}
	got := DealScore(l, stats, []*models.Comparable{comparable(6e6, 60)})

	if got.Breakdown.PriceVsMarket != 0 {
		t.Errorf("PriceVsMarket = %v; want 0", got.Breakdown.PriceVsMarket)
	}
	if got.Breakdown.ComparableAnalysis != 2 {
		t.Errorf("ComparableAnalysis = %v; want 2", got.Breakdown.ComparableAnalysis)
	}
	// 0 + 0 + 5 + 9 + 2
	if got.Score != 16 {
		t.Errorf("Score = %v; want 16", got.Score)
	}
}

func TestDetectAnomaly(t *testing.T) {
	stats := &models.NeighborhoodStats{
		AvgPricePerM2: models.Float64(50000),
		P25PriceMXN:   3e6,
		P75PriceMXN:   6e6,
	}

	tests := []struct {
		name     string
		l        *models.Listing
		stats    *models.NeighborhoodStats
		wantFlag bool
		wantType string
	}{
		{"steal", listing("a", 2e6, 60), stats, true, models.AnomalyPotentialSteal},
		{"overpriced by percentile", listing("b", 8e6, 100), stats, true, models.AnomalyOverpriced},
		{"normal", listing("c", 4e6, 80), stats, false, ""},
		{"deal by deviation", listing("d", 2e6, 100), &models.NeighborhoodStats{AvgPricePerM2: models.Float64(50000)}, true, models.AnomalyPotentialDeal},
		{"overpriced by deviation", listing("e", 8e6, 100), &models.NeighborhoodStats{AvgPricePerM2: models.Float64(50000)}, true, models.AnomalyOverpriced},
		{"no stats", listing("f", 1e6, 10), nil, false, ""},
		{"no size", &models.Listing{PriceMXN: models.Float64(1e6)}, stats, false, ""},
	}

	for _, tt := range tests {
		flag, typ := DetectAnomaly(tt.l, tt.stats)
		if flag != tt.wantFlag || typ != tt.wantType {
			t.Errorf("%s: got (%v, %q); want (%v, %q)", tt.name, flag, typ, tt.wantFlag, tt.wantType)
		}
	}
}

func TestRecommendationTiers(t *testing.T) {
	seen := map[string]struct{}{}
	for _, in := range []struct {
		score float64
		flag  bool
		typ   string
	}{
		{50, true, models.AnomalyPotentialSteal},
		{50, true, models.AnomalyPotentialDeal},
		{50, true, models.AnomalyOverpriced},
		{85, false, ""},
		{70, false, ""},
		{50, false, ""},
		{10, false, ""},
	} {
		seen[Recommendation(in.score, in.flag, in.typ)] = struct{}{}
	}
	if len(seen) != 7 {
		t.Errorf("expected 7 distinct recommendations, got %d", len(seen))
	}
}

func TestAnalyzeListing(t *testing.T) {
	store := newFakeStore()
	l := listing("abc", 8e6, 100)
	store.listings[l.ID] = l
	store.stats[statsKey(l.City, l.Colonia, l.PropertyType)] = &models.NeighborhoodStats{
		ListingCount:  10,
		AvgPricePerM2: models.Float64(100000),
	}

	intel := NewIntelligence(store, newTestLogger())
	a, err := intel.AnalyzeListing(context.Background(), "abc")
	if err != nil {
		t.Fatalf("AnalyzeListing: %v", err)
	}
	if a.PricePerM2 == nil || *a.PricePerM2 != 80000 {
		t.Errorf("PricePerM2 = %v", a.PricePerM2)
	}
	if a.Comparables == nil {
		t.Error("Comparables should be an empty slice, not nil")
	}
	if a.Recommendation == "" {
		t.Error("missing recommendation")
	}

	_, err = intel.AnalyzeListing(context.Background(), "missing")
	if !utils.IsKind(err, utils.ErrNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestTrendingListings(t *testing.T) {
	store := newFakeStore()
	store.listings["a"] = listing("a", 5e6, 50)
	store.listings["b"] = listing("b", 5e6, 200)
	store.listings["c"] = &models.Listing{ID: "c", City: CanonicalCDMX}

	intel := NewIntelligence(store, newTestLogger())
	got, err := intel.TrendingListings(context.Background(), CanonicalCDMX, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 scored listings, got %d", len(got))
	}
	if got[0].ID != "b" {
		t.Errorf("larger listing should rank first, got %s", got[0].ID)
	}
	if got[0].PricePerM2 == nil || *got[0].PricePerM2 != 25000 {
		t.Errorf("PricePerM2 = %v", got[0].PricePerM2)
	}
}
