package services

import (
	"context"
	"sort"

	"polpi-mx/models"
	"polpi-mx/utils"
)

// fakeStore is an in-memory MarketData used by the service tests.
type fakeStore struct {
	listings map[string]*models.Listing
	stats    map[string]*models.NeighborhoodStats
	comps    map[string][]*models.Comparable
	trends   []models.MarketTrend
	city     *models.CityStats
	ranking  []models.ColoniaStats
	types    []models.PropertyTypeStats
	cities   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings: make(map[string]*models.Listing),
		stats:    make(map[string]*models.NeighborhoodStats),
		comps:    make(map[string][]*models.Comparable),
		cities:   make(map[string]string),
	}
}

func statsKey(city, colonia, propertyType string) string {
	return city + "|" + colonia + "|" + propertyType
}

func (f *fakeStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, utils.NewError(utils.ErrNotFound, "listing %s not found", id)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) NeighborhoodStats(_ context.Context, city, colonia, propertyType string) (*models.NeighborhoodStats, error) {
	return f.stats[statsKey(city, colonia, propertyType)], nil
}

func (f *fakeStore) FindComparables(_ context.Context, id string, limit int) ([]*models.Comparable, error) {
	if _, ok := f.listings[id]; !ok {
		return nil, utils.NewError(utils.ErrNotFound, "listing %s not found", id)
	}
	c := f.comps[id]
	if len(c) > limit {
		c = c[:limit]
	}
	return c, nil
}

func (f *fakeStore) ActiveListings(_ context.Context, filters models.ListingFilters, limit int) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, l := range f.listings {
		if filters.City != "" && l.City != filters.City {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CityStats(_ context.Context, _ string) (*models.CityStats, error) {
	return f.city, nil
}

func (f *fakeStore) ColoniaRanking(_ context.Context, _ string, _, limit int, desc bool) ([]models.ColoniaStats, error) {
	out := append([]models.ColoniaStats(nil), f.ranking...)
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return *out[i].AvgPricePerM2 > *out[j].AvgPricePerM2
		}
		return *out[i].AvgPricePerM2 < *out[j].AvgPricePerM2
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) PropertyTypeBreakdown(_ context.Context, _, _ string) ([]models.PropertyTypeStats, error) {
	return f.types, nil
}

func (f *fakeStore) MarketTrends(_ context.Context, _, _ string, months int) ([]models.MarketTrend, error) {
	if len(f.trends) > months {
		return f.trends[:months], nil
	}
	return f.trends, nil
}

func (f *fakeStore) MostFrequentCity(_ context.Context, colonia string) (string, error) {
	return f.cities[colonia], nil
}
