package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const cdmx = "Ciudad de México"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", Options{}, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newListing(source, url string, price, size float64, colonia, propertyType string) *models.Listing {
	l := &models.Listing{
		Source:       source,
		URL:          url,
		Title:        "Propiedad en " + colonia,
		PropertyType: propertyType,
		City:         cdmx,
		Colonia:      colonia,
		ScrapedDate:  "2026-09-15T12:00:00Z",
	}
	if price > 0 {
		l.PriceMXN = models.Float64(price)
		l.PriceUSD = models.Float64(price / 17)
	}
	if size > 0 {
		l.SizeM2 = models.Float64(size)
	}
	return l
}

func seed(t *testing.T, s *SQLiteStore, listings ...*models.Listing) {
	t.Helper()
	for _, l := range listings {
		_, err := s.UpsertListing(context.Background(), l)
		require.NoError(t, err)
	}
}

func TestOpen_CreatesFileDatabase(t *testing.T) {
	path := t.TempDir() + "/nested/polpi.db"
	s, err := Open(context.Background(), path, Options{}, utils.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, 20, s.Options().DefaultPageSize)
	assert.Equal(t, 100, s.Options().MaxPageSize)
	assert.Equal(t, 3, s.Options().SearchMinLength)

	// migrate is idempotent
	require.NoError(t, s.migrate(context.Background()))
}

func TestUpsertListing_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := newListing("lamudi", "https://www.lamudi.com.mx/detalle/1", 4_000_000, 80, "Roma Norte", models.TypeDepartamento)
	l.Bedrooms = models.Int(2)
	l.Images = models.StringList{"https://img/1.jpg", "https://img/2.jpg"}
	l.Amenities = models.StringList{"gimnasio", "roof_garden"}
	l.RawData = models.JSONMap{"raw_price": "$4,000,000"}

	id, err := s.UpsertListing(ctx, l)
	require.NoError(t, err)
	assert.Len(t, id, 16)

	got, err := s.GetListing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lamudi", got.Source)
	assert.Equal(t, "", got.SourceID)
	assert.Equal(t, cdmx, got.City)
	assert.Equal(t, 4_000_000.0, *got.PriceMXN)
	assert.Equal(t, 2, *got.Bedrooms)
	assert.Nil(t, got.Bathrooms)
	assert.Equal(t, models.StringList{"https://img/1.jpg", "https://img/2.jpg"}, got.Images)
	assert.Equal(t, models.StringList{"gimnasio", "roof_garden"}, got.Amenities)
	assert.Equal(t, "$4,000,000", got.RawData["raw_price"])
	assert.True(t, got.IsActive)
	assert.Equal(t, 0, got.ViewsCount)
	require.NotNil(t, got.PricePerM2)
	assert.Equal(t, 50_000.0, *got.PricePerM2)
	assert.Greater(t, got.DataQualityScore, 0.0)
}

func TestUpsertListing_RequiresSource(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertListing(context.Background(), &models.Listing{URL: "https://x"})
	assert.True(t, utils.IsKind(err, utils.ErrInvalidInput))
}

func TestUpsertListing_KeepsIDForSameSourceID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := newListing("mercadolibre", "https://inmueble.mercadolibre.com.mx/MLM-1", 2_000_000, 60, "Del Valle", models.TypeDepartamento)
	first.SourceID = "1"
	id1, err := s.UpsertListing(ctx, first)
	require.NoError(t, err)

	// same ad, new URL and title -> different generated id
	second := newListing("mercadolibre", "https://inmueble.mercadolibre.com.mx/MLM-1-nuevo", 1_900_000, 60, "Del Valle", models.TypeDepartamento)
	second.SourceID = "1"
	second.Title = "Precio rebajado"
	id2, err := s.UpsertListing(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	page, err := s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 10, models.SortNewest)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Precio rebajado", page.Listings[0].Title)

	history, err := s.PriceHistory(ctx, id1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2_000_000.0, *history[0].PriceMXN)
	assert.Equal(t, 1_900_000.0, *history[1].PriceMXN)
}

func TestUpsertListing_NoHistoryWithoutPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.UpsertListing(ctx, newListing("vivanuncios", "https://v/1", 0, 100, "Narvarte", models.TypeCasa))
	require.NoError(t, err)

	history, err := s.PriceHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestGetListing_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetListing(context.Background(), "missing")
	assert.True(t, utils.IsKind(err, utils.ErrNotFound))
}

func TestListingsPaginated_FiltersAndSort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s,
		newListing("lamudi", "https://l/1", 3_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/2", 6_000_000, 120, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/3", 9_000_000, 300, "Polanco", models.TypeCasa),
		newListing("lamudi", "https://l/4", 0, 90, "Polanco", models.TypeDepartamento),
	)

	page, err := s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 10, models.SortPrice)
	require.NoError(t, err)
	require.Equal(t, 4, page.Total)
	assert.Equal(t, 3_000_000.0, *page.Listings[0].PriceMXN)
	assert.Nil(t, page.Listings[3].PriceMXN, "unpriced listings sort last")

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 10, models.SortPriceDesc)
	require.NoError(t, err)
	assert.Equal(t, 9_000_000.0, *page.Listings[0].PriceMXN)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 10, models.SortPricePerM2)
	require.NoError(t, err)
	assert.Equal(t, 30_000.0, *page.Listings[0].PricePerM2)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{
		Colonia:  "roma norte",
		MinPrice: models.Float64(4_000_000),
	}, 1, 10, models.SortNewest)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "https://l/2", page.Listings[0].URL)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{PropertyType: models.TypeCasa}, 1, 10, models.SortNewest)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestListingsPaginated_PageBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		seed(t, s, newListing("lamudi", fmt.Sprintf("https://l/%d", i), 1_000_000, 50, "Roma Norte", models.TypeDepartamento))
	}

	page, err := s.ListingsPaginated(ctx, models.ListingFilters{}, 0, 2, models.SortNewest)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Listings, 2)
	assert.Equal(t, 3, page.TotalPages)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{}, 3, 2, models.SortNewest)
	require.NoError(t, err)
	assert.Len(t, page.Listings, 1)
	assert.False(t, page.HasNext)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 1000, models.SortNewest)
	require.NoError(t, err)
	assert.Equal(t, 100, page.PerPage)

	page, err = s.ListingsPaginated(ctx, models.ListingFilters{}, 1, 0, models.SortNewest)
	require.NoError(t, err)
	assert.Equal(t, 20, page.PerPage)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	withGarden := newListing("lamudi", "https://l/1", 5_000_000, 100, "Condesa", models.TypeDepartamento)
	withGarden.Description = "Hermoso departamento con jardín y roof garden"
	plain := newListing("lamudi", "https://l/2", 4_000_000, 90, "Narvarte", models.TypeDepartamento)
	plain.Description = "Departamento remodelado"
	seed(t, s, withGarden, plain)

	page, err := s.Search(ctx, "jardin", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "https://l/1", page.Listings[0].URL)

	page, err = s.Search(ctx, "roof garden", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = s.Search(ctx, "narvarte", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = s.Search(ctx, "  ab ", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Listings)

	_, err = s.Search(ctx, `casa "grande`, 1, 10)
	assert.NoError(t, err)
}

func TestNeighborhoodStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s,
		newListing("lamudi", "https://l/1", 1_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/2", 2_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/3", 3_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/4", 4_000_000, 100, "Roma Norte", models.TypeCasa),
		newListing("lamudi", "https://l/5", 9_000_000, 0, "Roma Norte", models.TypeCasa),
	)

	stats, err := s.NeighborhoodStats(ctx, cdmx, "Roma Norte", "")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 4, stats.ListingCount)
	assert.Equal(t, 2_500_000.0, stats.AvgPriceMXN)
	assert.Equal(t, 2_500_000.0, stats.MedianPriceMXN)
	assert.Equal(t, 1_750_000.0, stats.P25PriceMXN)
	assert.Equal(t, 3_250_000.0, stats.P75PriceMXN)
	assert.Equal(t, 1_000_000.0, stats.MinPriceMXN)
	assert.Equal(t, 4_000_000.0, stats.MaxPriceMXN)
	require.NotNil(t, stats.AvgPricePerM2)
	assert.Equal(t, 25_000.0, *stats.AvgPricePerM2)

	stats, err = s.NeighborhoodStats(ctx, cdmx, "Roma Norte", models.TypeDepartamento)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ListingCount)

	stats, err = s.NeighborhoodStats(ctx, cdmx, "Juárez", "")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestFindComparables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	subject := newListing("lamudi", "https://l/subject", 5_000_000, 100, "Condesa", models.TypeDepartamento)
	seed(t, s,
		subject,
		newListing("inmuebles24", "https://i/near", 5_200_000, 105, "Condesa", models.TypeDepartamento),
		newListing("inmuebles24", "https://i/edge", 4_000_000, 125, "Condesa", models.TypeDepartamento),
		newListing("inmuebles24", "https://i/too-big", 9_000_000, 200, "Condesa", models.TypeDepartamento),
		newListing("inmuebles24", "https://i/house", 5_000_000, 100, "Condesa", models.TypeCasa),
		newListing("inmuebles24", "https://i/other-colonia", 5_000_000, 100, "Roma Norte", models.TypeDepartamento),
	)

	comps, err := s.FindComparables(ctx, subject.ID, 5)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "https://i/near", comps[0].URL)
	assert.Equal(t, 5.0, comps[0].SizeDiff)
	assert.Equal(t, 200_000.0, comps[0].PriceDiff)
	assert.Equal(t, "https://i/edge", comps[1].URL)

	_, err = s.FindComparables(ctx, "missing", 5)
	assert.True(t, utils.IsKind(err, utils.ErrNotFound))
}

func TestRecomputeAggregatesAndTrends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	aug := newListing("lamudi", "https://l/1", 2_000_000, 100, "Roma Norte", models.TypeDepartamento)
	aug.ScrapedDate = "2026-08-03T10:00:00Z"
	sep1 := newListing("lamudi", "https://l/2", 3_000_000, 100, "Roma Norte", models.TypeDepartamento)
	sep2 := newListing("lamudi", "https://l/3", 5_000_000, 100, "Roma Norte", models.TypeCasa)
	seed(t, s, aug, sep1, sep2)

	trends, stats, err := s.RecomputeAggregates(ctx, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	// (departamento, all) x Aug + (departamento, casa, all) x Sep
	assert.Equal(t, 5, trends)
	// (departamento, casa, all) in Roma Norte
	assert.Equal(t, 3, stats)

	all, err := s.MarketTrends(ctx, cdmx, "", 12)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2026-09", all[0].YearMonth)
	assert.Equal(t, 2, all[0].ListingCount)
	assert.Equal(t, 4_000_000.0, *all[0].AvgPriceMXN)
	assert.Equal(t, "2026-08", all[1].YearMonth)

	deptos, err := s.MarketTrends(ctx, cdmx, models.TypeDepartamento, 1)
	require.NoError(t, err)
	require.Len(t, deptos, 1)
	assert.Equal(t, 3_000_000.0, *deptos[0].AvgPriceMXN)

	stored, err := s.StoredNeighborhoodStats(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "", stored[0].PropertyType)
	assert.Equal(t, 3, stored[0].ListingCount)

	// recompute replaces rather than accumulates
	trends, _, err = s.RecomputeAggregates(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 5, trends)
}

func TestRecomputeAggregates_UntypedListingsCountedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed(t, s,
		newListing("lamudi", "https://l/u1", 2_000_000, 80, "Narvarte", ""),
		newListing("lamudi", "https://l/u2", 4_000_000, 120, "Narvarte", ""),
	)

	trends, stats, err := s.RecomputeAggregates(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, trends)
	assert.Equal(t, 1, stats)

	all, err := s.MarketTrends(ctx, cdmx, "", 12)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].ListingCount)
	assert.Equal(t, 3_000_000.0, *all[0].AvgPriceMXN)

	stored, err := s.StoredNeighborhoodStats(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].ListingCount)
}

func TestCityAndPlatformStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	gdl := newListing("inmuebles24", "https://i/gdl", 3_000_000, 150, "Providencia", models.TypeCasa)
	gdl.City = "Guadalajara"
	seed(t, s,
		newListing("lamudi", "https://l/1", 4_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/2", 6_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("lamudi", "https://l/3", 8_000_000, 100, "Roma Norte", models.TypeDepartamento),
		newListing("vivanuncios", "https://v/1", 2_000_000, 100, "Narvarte", models.TypeDepartamento),
		newListing("vivanuncios", "https://v/2", 2_500_000, 100, "Narvarte", models.TypeDepartamento),
		newListing("vivanuncios", "https://v/3", 3_000_000, 100, "Narvarte", models.TypeCasa),
		gdl,
	)

	city, err := s.CityStats(ctx, cdmx)
	require.NoError(t, err)
	require.NotNil(t, city)
	assert.Equal(t, 6, city.ListingCount)
	assert.Equal(t, 2_000_000.0, *city.MinPriceMXN)
	assert.Equal(t, 8_000_000.0, *city.MaxPriceMXN)

	none, err := s.CityStats(ctx, "Mérida")
	require.NoError(t, err)
	assert.Nil(t, none)

	cities, err := s.CitiesWithStats(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, cdmx, cities[0].City)

	premium, err := s.ColoniaRanking(ctx, cdmx, 3, 10, true)
	require.NoError(t, err)
	require.Len(t, premium, 2)
	assert.Equal(t, "Roma Norte", premium[0].Colonia)
	assert.Equal(t, 60_000.0, *premium[0].AvgPricePerM2)

	affordable, err := s.ColoniaRanking(ctx, cdmx, 3, 1, false)
	require.NoError(t, err)
	require.Len(t, affordable, 1)
	assert.Equal(t, "Narvarte", affordable[0].Colonia)

	types, err := s.PropertyTypeBreakdown(ctx, cdmx, "Narvarte")
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, models.TypeDepartamento, types[0].PropertyType)
	assert.Equal(t, 2, types[0].Count)

	found, err := s.MostFrequentCity(ctx, "Providencia")
	require.NoError(t, err)
	assert.Equal(t, "Guadalajara", found)
	found, err = s.MostFrequentCity(ctx, "Nowhere")
	require.NoError(t, err)
	assert.Equal(t, "", found)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.TotalListings)
	assert.Equal(t, 2, stats.Cities)
	assert.Equal(t, 3, stats.Colonias)
	assert.Equal(t, map[string]int{"lamudi": 3, "vivanuncios": 3, "inmuebles24": 1}, stats.BySource)
	assert.Equal(t, "2026-09-15T12:00:00Z", stats.LastScraped)
}

func TestDeactivateAndViews(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := newListing("lamudi", "https://l/1", 1_000_000, 50, "Roma Norte", models.TypeDepartamento)
	seed(t, s, l)

	require.NoError(t, s.IncrementViews(ctx, l.ID))
	require.NoError(t, s.IncrementViews(ctx, l.ID))
	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ViewsCount)

	require.NoError(t, s.DeactivateListing(ctx, l.ID))
	active, err := s.ActiveListings(ctx, models.ListingFilters{}, 0)
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err = s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.True(t, utils.IsKind(s.DeactivateListing(ctx, "missing"), utils.ErrNotFound))
	assert.True(t, utils.IsKind(s.IncrementViews(ctx, "missing"), utils.ErrNotFound))
}

func TestLocationBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := newListing("lamudi", "https://l/1", 1_000_000, 50, "", models.TypeDepartamento)
	seed(t, s, l)

	missing, err := s.ListingsMissingCoords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)

	require.NoError(t, s.UpdateLocation(ctx, l.ID, 19.41, -99.16, "Roma Norte"))
	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roma Norte", got.Colonia)
	assert.InDelta(t, 19.41, *got.Lat, 1e-9)

	missing, err = s.ListingsMissingCoords(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSaveDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := newListing("lamudi", "https://l/1", 1_000_000, 50, "Roma Norte", models.TypeDepartamento)
	b := newListing("inmuebles24", "https://i/1", 1_010_000, 51, "Roma Norte", models.TypeDepartamento)
	seed(t, s, a, b)

	pairs := []models.DuplicatePair{{CanonicalID: a.ID, DuplicateID: b.ID, Confidence: 0.9}}
	n, err := s.SaveDuplicates(ctx, pairs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.SaveDuplicates(ctx, pairs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	stored, err := s.Duplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, pairs, stored)
}

func TestRecordRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	run := models.ScrapeRun{ID: "run-1", Source: "lamudi", StartedAt: started}
	require.NoError(t, s.RecordRun(ctx, run))

	run.FinishedAt = started.Add(2 * time.Minute)
	run.RawCount = 40
	run.StoredCount = 38
	run.Error = "page 3: timeout"
	require.NoError(t, s.RecordRun(ctx, run))

	runs, err := s.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 38, runs[0].StoredCount)
	assert.Equal(t, "page 3: timeout", runs[0].Error)
	assert.True(t, runs[0].StartedAt.Equal(started))
	assert.True(t, runs[0].FinishedAt.Equal(started.Add(2*time.Minute)))
}
