package services

import (
	"context"
	"errors"
	"testing"

	"polpi-mx/models"
	"polpi-mx/utils"
)

type fakeFetcher struct {
	raw *models.RawListing
	err error
	got string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*models.RawListing, error) {
	f.got = rawURL
	return f.raw, f.err
}

func TestURLAnalyzerAnalyze(t *testing.T) {
	store := newFakeStore()
	for _, l := range []*models.Listing{
		listing("near", 4.2e6, 95),
		listing("nearer", 4.0e6, 100),
		listing("too-big", 9e6, 200),
	} {
		store.listings[l.ID] = l
	}
	other := listing("condesa", 4e6, 100)
	other.Colonia = "Condesa"
	store.listings[other.ID] = other
	store.stats[statsKey(CanonicalCDMX, "Roma Norte", models.TypeDepartamento)] = &models.NeighborhoodStats{
		ListingCount:  12,
		AvgPricePerM2: models.Float64(50000),
	}

	fetcher := &fakeFetcher{raw: &models.RawListing{
		Source:           "lamudi",
		URL:              "https://www.lamudi.com.mx/detalle/roma-101",
		Title:            "Departamento en venta en Roma Norte",
		RawPrice:         "$3,500,000 M.N.",
		RawSize:          "100 m²",
		Location:         "Roma Norte, Cuauhtémoc, Ciudad de México",
		PropertyTypeHint: "departamento",
	}}
	intel := NewIntelligence(store, newTestLogger())
	a := NewURLAnalyzer(fetcher, NewCleaner(newTestLogger(), 17), intel, newTestLogger())

	got, err := a.Analyze(context.Background(), "  https://www.lamudi.com.mx/detalle/roma-101 ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if fetcher.got != "https://www.lamudi.com.mx/detalle/roma-101" {
		t.Errorf("fetched %q", fetcher.got)
	}
	if got.Listing.PriceMXN == nil || *got.Listing.PriceMXN != 3_500_000 {
		t.Errorf("PriceMXN = %v", got.Listing.PriceMXN)
	}
	if got.Listing.Colonia != "Roma Norte" || got.Listing.City != CanonicalCDMX {
		t.Errorf("location = %q, %q", got.Listing.Colonia, got.Listing.City)
	}
	if got.Listing.PricePerM2 == nil || *got.Listing.PricePerM2 != 35000 {
		t.Errorf("PricePerM2 = %v", got.Listing.PricePerM2)
	}
	if got.Analysis.NeighborhoodStats == nil {
		t.Fatal("missing neighborhood stats")
	}
	if got.Analysis.DealBreakdown.PriceVsMarket != 80 {
		t.Errorf("PriceVsMarket = %v; want 80", got.Analysis.DealBreakdown.PriceVsMarket)
	}
	if len(got.Analysis.Comparables) != 2 {
		t.Fatalf("expected 2 comparables, got %d", len(got.Analysis.Comparables))
	}
	if got.Analysis.Comparables[0].ID != "nearer" {
		t.Errorf("closest comparable first, got %s", got.Analysis.Comparables[0].ID)
	}
}

func TestURLAnalyzerErrors(t *testing.T) {
	intel := NewIntelligence(newFakeStore(), newTestLogger())
	cleaner := NewCleaner(newTestLogger(), 0)

	a := NewURLAnalyzer(&fakeFetcher{}, cleaner, intel, newTestLogger())
	if _, err := a.Analyze(context.Background(), " "); !utils.IsKind(err, utils.ErrInvalidInput) {
		t.Errorf("empty url: expected invalid_input, got %v", err)
	}

	upstream := utils.NewError(utils.ErrUpstream, "blocked")
	a = NewURLAnalyzer(&fakeFetcher{err: upstream}, cleaner, intel, newTestLogger())
	if _, err := a.Analyze(context.Background(), "https://www.inmuebles24.com/x.html"); !errors.Is(err, upstream) {
		t.Errorf("expected fetch error, got %v", err)
	}

	a = NewURLAnalyzer(&fakeFetcher{raw: &models.RawListing{Title: "sin url"}}, cleaner, intel, newTestLogger())
	if _, err := a.Analyze(context.Background(), "https://www.lamudi.com.mx/x"); !utils.IsKind(err, utils.ErrParse) {
		t.Errorf("expected parse error, got %v", err)
	}
}
