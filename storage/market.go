package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"polpi-mx/models"
	"polpi-mx/services"
	"polpi-mx/utils"
)

const (
	comparableSizeBand = 0.30
	unknownSizeMax     = 999999
)

// NeighborhoodStats computes price statistics for the priced and sized active
// listings of a colonia. An empty propertyType covers every type. It returns
// nil when there is nothing to summarise.
func (s *SQLiteStore) NeighborhoodStats(ctx context.Context, city, colonia, propertyType string) (*models.NeighborhoodStats, error) {
	if colonia == "" {
		return nil, nil
	}
	query := `SELECT price_mxn, size_m2 FROM listings
		WHERE is_active = 1 AND city = ? COLLATE NOCASE AND colonia = ? COLLATE NOCASE
		AND price_mxn > 0 AND size_m2 > 0`
	args := []any{city, colonia}
	if propertyType != "" {
		query += ` AND property_type = ?`
		args = append(args, propertyType)
	}
	query += ` ORDER BY price_mxn`

	var rows []struct {
		Price float64 `db:"price_mxn"`
		Size  float64 `db:"size_m2"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "neighborhood stats", err)
	}

	prices := make([]float64, 0, len(rows))
	ppm2 := make([]float64, 0, len(rows))
	for _, r := range rows {
		prices = append(prices, r.Price)
		ppm2 = append(ppm2, r.Price/r.Size)
	}
	return services.SummarizePrices(city, colonia, propertyType, prices, ppm2), nil
}

// FindComparables returns active listings of the same city and type whose
// size is within 30% of the subject, closest first.
func (s *SQLiteStore) FindComparables(ctx context.Context, id string, limit int) ([]*models.Comparable, error) {
	subject, err := s.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	minSize, maxSize := 0.0, float64(unknownSizeMax)
	if size := subject.Size(); size > 0 {
		minSize, maxSize = size*(1-comparableSizeBand), size*(1+comparableSizeBand)
	}

	query := `SELECT ` + listingColumns + `,
		ABS(COALESCE(size_m2, 0) - ?) AS size_diff,
		ABS(COALESCE(price_mxn, 0) - ?) AS price_diff
		FROM listings
		WHERE is_active = 1 AND id != ? AND city = ? AND property_type = ?
		AND size_m2 BETWEEN ? AND ?`
	args := []any{subject.Size(), subject.Price(), id, subject.City, subject.PropertyType, minSize, maxSize}
	if subject.Colonia != "" {
		query += ` AND colonia = ?`
		args = append(args, subject.Colonia)
	}
	query += ` ORDER BY size_diff, price_diff, id LIMIT ?`
	args = append(args, limit)

	var comps []*models.Comparable
	if err := s.db.SelectContext(ctx, &comps, query, args...); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "comparables for "+id, err)
	}
	return comps, nil
}

// MarketTrends returns city-level monthly aggregates, newest first. An empty
// propertyType selects the all-types rows.
func (s *SQLiteStore) MarketTrends(ctx context.Context, city, propertyType string, months int) ([]models.MarketTrend, error) {
	if months <= 0 {
		months = 12
	}
	var trends []models.MarketTrend
	err := s.db.SelectContext(ctx, &trends, `SELECT city, colonia, property_type, year_month,
		avg_price_mxn, avg_price_per_m2, median_price_mxn,
		COALESCE(listing_count, 0) AS listing_count, COALESCE(created_date, '') AS created_date
		FROM market_trends
		WHERE city = ? COLLATE NOCASE AND colonia = '' AND property_type = ?
		ORDER BY year_month DESC LIMIT ?`, city, propertyType, months)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "market trends", err)
	}
	return trends, nil
}

const cityStatsSelect = `SELECT city, COUNT(*) AS listing_count,
	ROUND(AVG(CASE WHEN price_mxn > 0 THEN price_mxn END), 2) AS avg_price_mxn,
	ROUND(AVG(CASE WHEN price_mxn > 0 AND size_m2 > 0 THEN price_mxn / size_m2 END), 2) AS avg_price_per_m2,
	MIN(CASE WHEN price_mxn > 0 THEN price_mxn END) AS min_price_mxn,
	MAX(price_mxn) AS max_price_mxn,
	ROUND(AVG(CASE WHEN size_m2 > 0 THEN size_m2 END), 2) AS avg_size_m2
	FROM listings`

// CityStats aggregates the active listings of one city. It returns nil when
// the city has none.
func (s *SQLiteStore) CityStats(ctx context.Context, city string) (*models.CityStats, error) {
	var stats models.CityStats
	err := s.db.GetContext(ctx, &stats, cityStatsSelect+`
		WHERE is_active = 1 AND city = ? COLLATE NOCASE GROUP BY city COLLATE NOCASE`, city)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "city stats", err)
	}
	return &stats, nil
}

// CitiesWithStats returns every city with active listings, largest first.
func (s *SQLiteStore) CitiesWithStats(ctx context.Context) ([]models.CityStats, error) {
	var cities []models.CityStats
	err := s.db.SelectContext(ctx, &cities, cityStatsSelect+`
		WHERE is_active = 1 AND COALESCE(city, '') != ''
		GROUP BY city ORDER BY listing_count DESC, city`)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "cities", err)
	}
	return cities, nil
}

// ColoniaRanking orders the colonias of a city by average price/m².
// Colonias with fewer than minCount priced listings are left out.
func (s *SQLiteStore) ColoniaRanking(ctx context.Context, city string, minCount, limit int, desc bool) ([]models.ColoniaStats, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	if limit <= 0 {
		limit = -1
	}
	var ranking []models.ColoniaStats
	err := s.db.SelectContext(ctx, &ranking, `SELECT colonia, COUNT(*) AS listing_count,
		ROUND(AVG(price_mxn), 2) AS avg_price_mxn,
		ROUND(AVG(CASE WHEN size_m2 > 0 THEN price_mxn / size_m2 END), 2) AS avg_price_per_m2
		FROM listings
		WHERE is_active = 1 AND city = ? COLLATE NOCASE AND COALESCE(colonia, '') != ''
		AND price_mxn > 0
		GROUP BY colonia
		HAVING COUNT(*) >= ? AND avg_price_per_m2 IS NOT NULL
		ORDER BY avg_price_per_m2 `+order+`, colonia LIMIT ?`, city, minCount, limit)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "colonia ranking", err)
	}
	return ranking, nil
}

// PropertyTypeBreakdown counts active listings per property type, optionally
// restricted to a city and colonia.
func (s *SQLiteStore) PropertyTypeBreakdown(ctx context.Context, city, colonia string) ([]models.PropertyTypeStats, error) {
	query := `SELECT COALESCE(property_type, '') AS property_type, COUNT(*) AS count,
		ROUND(AVG(CASE WHEN price_mxn > 0 THEN price_mxn END), 2) AS avg_price_mxn,
		ROUND(AVG(CASE WHEN price_mxn > 0 AND size_m2 > 0 THEN price_mxn / size_m2 END), 2) AS avg_price_per_m2
		FROM listings WHERE is_active = 1`
	var args []any
	if city != "" {
		query += ` AND city = ? COLLATE NOCASE`
		args = append(args, city)
	}
	if colonia != "" {
		query += ` AND colonia = ? COLLATE NOCASE`
		args = append(args, colonia)
	}
	query += ` GROUP BY property_type ORDER BY count DESC, property_type`

	var types []models.PropertyTypeStats
	if err := s.db.SelectContext(ctx, &types, query, args...); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "property types", err)
	}
	return types, nil
}

// MostFrequentCity returns the city most listings of a colonia belong to,
// or "" when the colonia is unknown.
func (s *SQLiteStore) MostFrequentCity(ctx context.Context, colonia string) (string, error) {
	var city string
	err := s.db.GetContext(ctx, &city, `SELECT city FROM listings
		WHERE is_active = 1 AND colonia = ? COLLATE NOCASE AND COALESCE(city, '') != ''
		GROUP BY city ORDER BY COUNT(*) DESC, city LIMIT 1`, colonia)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "city of colonia", err)
	}
	return city, nil
}

// Stats returns platform-wide counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.PlatformStats, error) {
	stats := &models.PlatformStats{BySource: make(map[string]int)}

	var totals struct {
		Total       int    `db:"total"`
		Cities      int    `db:"cities"`
		Colonias    int    `db:"colonias"`
		LastScraped string `db:"last_scraped"`
	}
	err := s.db.GetContext(ctx, &totals, `SELECT COUNT(*) AS total,
		COUNT(DISTINCT NULLIF(city, '')) AS cities,
		COUNT(DISTINCT NULLIF(colonia, '')) AS colonias,
		COALESCE(MAX(scraped_date), '') AS last_scraped
		FROM listings WHERE is_active = 1`)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "platform stats", err)
	}
	stats.TotalListings = totals.Total
	stats.Cities = totals.Cities
	stats.Colonias = totals.Colonias
	stats.LastScraped = totals.LastScraped

	var bySource []struct {
		Source string `db:"source"`
		Count  int    `db:"count"`
	}
	err = s.db.SelectContext(ctx, &bySource,
		`SELECT source, COUNT(*) AS count FROM listings WHERE is_active = 1 GROUP BY source`)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "listings by source", err)
	}
	for _, row := range bySource {
		stats.BySource[row.Source] = row.Count
	}

	types, err := s.PropertyTypeBreakdown(ctx, "", "")
	if err != nil {
		return nil, err
	}
	stats.PropertyTypes = types
	if stats.PropertyTypes == nil {
		stats.PropertyTypes = []models.PropertyTypeStats{}
	}
	return stats, nil
}

// StoredNeighborhoodStats returns the precomputed neighborhood_stats rows.
func (s *SQLiteStore) StoredNeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error) {
	var stats []models.NeighborhoodStats
	err := s.db.SelectContext(ctx, &stats, `SELECT city, colonia, property_type,
		COALESCE(listing_count, 0) AS listing_count,
		COALESCE(avg_price_mxn, 0) AS avg_price_mxn,
		COALESCE(median_price_mxn, 0) AS median_price_mxn,
		COALESCE(p25_price_mxn, 0) AS p25_price_mxn,
		COALESCE(p75_price_mxn, 0) AS p75_price_mxn,
		COALESCE(p90_price_mxn, 0) AS p90_price_mxn,
		COALESCE(min_price_mxn, 0) AS min_price_mxn,
		COALESCE(max_price_mxn, 0) AS max_price_mxn,
		avg_price_per_m2, median_price_per_m2
		FROM neighborhood_stats ORDER BY city, colonia, property_type`)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "stored neighborhood stats", err)
	}
	return stats, nil
}

type aggregateRow struct {
	City         string   `db:"city"`
	Colonia      string   `db:"colonia"`
	PropertyType string   `db:"property_type"`
	Price        float64  `db:"price_mxn"`
	Size         *float64 `db:"size_m2"`
	YearMonth    string   `db:"year_month"`
}

type sample struct {
	prices []float64
	ppm2   []float64
}

func (s *sample) add(r aggregateRow) {
	s.prices = append(s.prices, r.Price)
	if r.Size != nil && *r.Size > 0 {
		s.ppm2 = append(s.ppm2, r.Price / *r.Size)
	}
}

type trendKey struct{ city, propertyType, month string }

type statsKey struct{ city, colonia, propertyType string }

// RecomputeAggregates rebuilds market_trends and neighborhood_stats from the
// active listings. Trends are grouped by the month of scraped_date at city
// level, once per property type and once across all types under an empty
// type. Listings without a type only count in the all-types rows.
func (s *SQLiteStore) RecomputeAggregates(ctx context.Context, now time.Time) (int, int, error) {
	var rows []aggregateRow
	err := s.db.SelectContext(ctx, &rows, `SELECT city, COALESCE(colonia, '') AS colonia,
		COALESCE(property_type, '') AS property_type, price_mxn, size_m2,
		substr(scraped_date, 1, 7) AS year_month
		FROM listings
		WHERE is_active = 1 AND price_mxn > 0 AND COALESCE(city, '') != ''`)
	if err != nil {
		return 0, 0, utils.Wrap(utils.ErrStorage, "load aggregate rows", err)
	}

	trends := make(map[trendKey]*sample)
	neighborhoods := make(map[statsKey]*sample)
	for _, r := range rows {
		tkeys := []trendKey{{r.City, "", r.YearMonth}}
		if r.PropertyType != "" {
			tkeys = append(tkeys, trendKey{r.City, r.PropertyType, r.YearMonth})
		}
		for _, k := range tkeys {
			if trends[k] == nil {
				trends[k] = &sample{}
			}
			trends[k].add(r)
		}
		if r.Colonia == "" || r.Size == nil || *r.Size <= 0 {
			continue
		}
		skeys := []statsKey{{r.City, r.Colonia, ""}}
		if r.PropertyType != "" {
			skeys = append(skeys, statsKey{r.City, r.Colonia, r.PropertyType})
		}
		for _, k := range skeys {
			if neighborhoods[k] == nil {
				neighborhoods[k] = &sample{}
			}
			neighborhoods[k].add(r)
		}
	}

	stamp := now.UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, utils.Wrap(utils.ErrStorage, "begin aggregates", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM market_trends`); err != nil {
		return 0, 0, utils.Wrap(utils.ErrStorage, "clear trends", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM neighborhood_stats`); err != nil {
		return 0, 0, utils.Wrap(utils.ErrStorage, "clear neighborhood stats", err)
	}

	for _, k := range sortedTrendKeys(trends) {
		smp := trends[k]
		summary := services.SummarizePrices(k.city, "", k.propertyType, smp.prices, smp.ppm2)
		median := summary.MedianPriceMXN
		avg := summary.AvgPriceMXN
		_, err := tx.ExecContext(ctx, `INSERT INTO market_trends
			(city, colonia, property_type, year_month, avg_price_mxn, avg_price_per_m2,
			 median_price_mxn, listing_count, created_date)
			VALUES (?, '', ?, ?, ?, ?, ?, ?, ?)`,
			k.city, k.propertyType, k.month, avg, summary.AvgPricePerM2, median, summary.ListingCount, stamp)
		if err != nil {
			return 0, 0, utils.Wrap(utils.ErrStorage, "insert trend", err)
		}
	}

	for _, k := range sortedStatsKeys(neighborhoods) {
		smp := neighborhoods[k]
		st := services.SummarizePrices(k.city, k.colonia, k.propertyType, smp.prices, smp.ppm2)
		_, err := tx.ExecContext(ctx, `INSERT INTO neighborhood_stats
			(city, colonia, property_type, avg_price_mxn, avg_price_per_m2, median_price_mxn,
			 median_price_per_m2, p25_price_mxn, p75_price_mxn, p90_price_mxn,
			 min_price_mxn, max_price_mxn, listing_count, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			st.City, st.Colonia, st.PropertyType, st.AvgPriceMXN, st.AvgPricePerM2, st.MedianPriceMXN,
			st.MedianPricePerM2, st.P25PriceMXN, st.P75PriceMXN, st.P90PriceMXN,
			st.MinPriceMXN, st.MaxPriceMXN, st.ListingCount, stamp)
		if err != nil {
			return 0, 0, utils.Wrap(utils.ErrStorage, "insert neighborhood stats", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, utils.Wrap(utils.ErrStorage, "commit aggregates", err)
	}
	s.logger.Info("[storage] Recomputed %d trend rows and %d neighborhood rows", len(trends), len(neighborhoods))
	return len(trends), len(neighborhoods), nil
}

func sortedTrendKeys(m map[trendKey]*sample) []trendKey {
	keys := make([]trendKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.city != b.city {
			return a.city < b.city
		}
		if a.propertyType != b.propertyType {
			return a.propertyType < b.propertyType
		}
		return a.month < b.month
	})
	return keys
}

func sortedStatsKeys(m map[statsKey]*sample) []statsKey {
	keys := make([]statsKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.city != b.city {
			return a.city < b.city
		}
		if a.colonia != b.colonia {
			return a.colonia < b.colonia
		}
		return a.propertyType < b.propertyType
	})
	return keys
}
