package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const externalSizeBand = 0.30

// ListingFetcher downloads one listing page and extracts its raw fields.
type ListingFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.RawListing, error)
}

// URLAnalyzer scores a listing pasted as a portal URL against the stored
// market, without storing it.
type URLAnalyzer struct {
	fetcher ListingFetcher
	cleaner *Cleaner
	intel   *Intelligence
	logger  *utils.Logger
}

// NewURLAnalyzer creates a URLAnalyzer.
func NewURLAnalyzer(fetcher ListingFetcher, cleaner *Cleaner, intel *Intelligence, logger *utils.Logger) *URLAnalyzer {
	return &URLAnalyzer{fetcher: fetcher, cleaner: cleaner, intel: intel, logger: logger}
}

// Analyze fetches rawURL, cleans the listing found there and runs the price
// analysis on it.
func (a *URLAnalyzer) Analyze(ctx context.Context, rawURL string) (*models.URLAnalysis, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, utils.NewError(utils.ErrInvalidInput, "url is required")
	}

	raw, err := a.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	cleaned := a.cleaner.Clean([]*models.RawListing{raw})
	if len(cleaned) == 0 {
		return nil, utils.NewError(utils.ErrParse, "no listing data at %s", rawURL)
	}
	l := cleaned[0]

	analysis, err := a.intel.AnalyzeExternal(ctx, l)
	if err != nil {
		return nil, err
	}
	l.PricePerM2 = analysis.PricePerM2

	a.logger.Info("[analyzer] %s: %s in %s, score %.1f",
		l.Source, l.PropertyType, firstNonEmpty(l.Colonia, l.City, "unknown location"), analysis.DealScore)
	return &models.URLAnalysis{Listing: l, Analysis: analysis}, nil
}

// AnalyzeExternal scores a listing that may not be stored. Unknown listings
// are compared with stored listings of the same city, colonia and type whose
// size is within 30%.
func (i *Intelligence) AnalyzeExternal(ctx context.Context, l *models.Listing) (*models.ListingAnalysis, error) {
	comps, err := i.store.FindComparables(ctx, l.ID, analysisComparables)
	if utils.IsKind(err, utils.ErrNotFound) {
		comps, err = i.externalComparables(ctx, l)
	}
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", l.URL, err)
	}
	return i.score(ctx, l, comps)
}

func (i *Intelligence) externalComparables(ctx context.Context, l *models.Listing) ([]*models.Comparable, error) {
	if l.City == "" || l.PropertyType == "" {
		return nil, nil
	}
	filters := models.ListingFilters{City: l.City, Colonia: l.Colonia, PropertyType: l.PropertyType}
	if size := l.Size(); size > 0 {
		filters.MinSize = models.Float64(size * (1 - externalSizeBand))
		filters.MaxSize = models.Float64(size * (1 + externalSizeBand))
	}
	pool, err := i.store.ActiveListings(ctx, filters, 0)
	if err != nil {
		return nil, err
	}

	var comps []*models.Comparable
	for _, c := range pool {
		if c.ID == l.ID || c.SizeM2 == nil || c.PropertyType != l.PropertyType {
			continue
		}
		if l.Colonia != "" && NormalizeKey(c.Colonia) != NormalizeKey(l.Colonia) {
			continue
		}
		if filters.MinSize != nil && (*c.SizeM2 < *filters.MinSize || *c.SizeM2 > *filters.MaxSize) {
			continue
		}
		comps = append(comps, &models.Comparable{
			Listing:   *c,
			SizeDiff:  math.Abs(c.Size() - l.Size()),
			PriceDiff: math.Abs(c.Price() - l.Price()),
		})
	}
	sort.SliceStable(comps, func(a, b int) bool {
		if comps[a].SizeDiff != comps[b].SizeDiff {
			return comps[a].SizeDiff < comps[b].SizeDiff
		}
		if comps[a].PriceDiff != comps[b].PriceDiff {
			return comps[a].PriceDiff < comps[b].PriceDiff
		}
		return comps[a].ID < comps[b].ID
	})
	if len(comps) > analysisComparables {
		comps = comps[:analysisComparables]
	}
	return comps, nil
}
