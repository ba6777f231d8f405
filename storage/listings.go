package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"polpi-mx/models"
	"polpi-mx/services"
	"polpi-mx/utils"
)

const listingColumns = `id, source, COALESCE(source_id, '') AS source_id,
	COALESCE(url, '') AS url, COALESCE(title, '') AS title,
	price_mxn, price_usd, COALESCE(property_type, '') AS property_type,
	bedrooms, bathrooms, size_m2, lot_size_m2,
	COALESCE(state, '') AS state, COALESCE(city, '') AS city, COALESCE(colonia, '') AS colonia,
	lat, lng, COALESCE(description, '') AS description, images,
	COALESCE(agent_name, '') AS agent_name, COALESCE(agent_phone, '') AS agent_phone,
	COALESCE(listed_date, '') AS listed_date, scraped_date, amenities, parking_spaces,
	COALESCE(data_quality_score, 0) AS data_quality_score, raw_data,
	COALESCE(is_active, 1) AS is_active, COALESCE(views_count, 0) AS views_count,
	CASE WHEN size_m2 > 0 AND price_mxn > 0 THEN ROUND(price_mxn / size_m2, 2) END AS price_per_m2`

const upsertListingSQL = `
INSERT INTO listings (
	id, source, source_id, url, title, price_mxn, price_usd, property_type,
	bedrooms, bathrooms, size_m2, lot_size_m2, state, city, colonia, lat, lng,
	description, images, agent_name, agent_phone, listed_date, scraped_date,
	amenities, parking_spaces, data_quality_score, raw_data, is_active
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(id) DO UPDATE SET
	source = excluded.source,
	source_id = excluded.source_id,
	url = excluded.url,
	title = excluded.title,
	price_mxn = excluded.price_mxn,
	price_usd = excluded.price_usd,
	property_type = excluded.property_type,
	bedrooms = excluded.bedrooms,
	bathrooms = excluded.bathrooms,
	size_m2 = excluded.size_m2,
	lot_size_m2 = excluded.lot_size_m2,
	state = excluded.state,
	city = excluded.city,
	colonia = excluded.colonia,
	lat = COALESCE(excluded.lat, listings.lat),
	lng = COALESCE(excluded.lng, listings.lng),
	description = excluded.description,
	images = excluded.images,
	agent_name = excluded.agent_name,
	agent_phone = excluded.agent_phone,
	listed_date = excluded.listed_date,
	scraped_date = excluded.scraped_date,
	amenities = excluded.amenities,
	parking_spaces = excluded.parking_spaces,
	data_quality_score = excluded.data_quality_score,
	raw_data = excluded.raw_data,
	is_active = 1`

// UpsertListing inserts or updates one listing, its search row and its price
// history in a single transaction. It returns the stored id, which is the
// existing row's id when the same (source, source_id) was already known.
func (s *SQLiteStore) UpsertListing(ctx context.Context, l *models.Listing) (string, error) {
	if l.Source == "" {
		return "", utils.NewError(utils.ErrInvalidInput, "listing source is required")
	}
	if l.ID == "" {
		l.ID = services.GenerateID(l.Source, l.URL, l.Title)
	}
	if l.ScrapedDate == "" {
		l.ScrapedDate = time.Now().UTC().Format(time.RFC3339)
	}
	l.DataQualityScore = services.QualityScore(l)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "begin upsert", err)
	}
	defer tx.Rollback()

	if l.SourceID != "" {
		var existing string
		err := tx.GetContext(ctx, &existing,
			`SELECT id FROM listings WHERE source = ? AND source_id = ?`, l.Source, l.SourceID)
		switch {
		case err == nil:
			l.ID = existing
		case !errors.Is(err, sql.ErrNoRows):
			return "", utils.Wrap(utils.ErrStorage, "lookup source id", err)
		}
	}

	images, err := l.Images.Value()
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "encode images", err)
	}
	amenities, err := l.Amenities.Value()
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "encode amenities", err)
	}
	raw, err := l.RawData.Value()
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "encode raw data", err)
	}

	_, err = tx.ExecContext(ctx, upsertListingSQL,
		l.ID, l.Source, nullIfEmpty(l.SourceID), l.URL, l.Title, l.PriceMXN, l.PriceUSD, l.PropertyType,
		l.Bedrooms, l.Bathrooms, l.SizeM2, l.LotSizeM2, l.State, l.City, l.Colonia, l.Lat, l.Lng,
		l.Description, images, l.AgentName, l.AgentPhone, l.ListedDate, l.ScrapedDate,
		amenities, l.ParkingSpaces, l.DataQualityScore, raw,
	)
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "upsert listing "+l.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM listings_fts WHERE id = ?`, l.ID); err != nil {
		return "", utils.Wrap(utils.ErrStorage, "clear search row", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO listings_fts (id, title, description, city, colonia, amenities) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.Title, l.Description, l.City, l.Colonia, strings.Join(l.Amenities, " "))
	if err != nil {
		return "", utils.Wrap(utils.ErrStorage, "index listing", err)
	}

	if l.PriceMXN != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO price_history (listing_id, price_mxn, price_usd, recorded_date, source) VALUES (?, ?, ?, ?, ?)`,
			l.ID, l.PriceMXN, l.PriceUSD, l.ScrapedDate, l.Source)
		if err != nil {
			return "", utils.Wrap(utils.ErrStorage, "record price", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", utils.Wrap(utils.ErrStorage, "commit upsert", err)
	}
	l.IsActive = true
	return l.ID, nil
}

// UpsertListings stores every listing and returns how many were saved.
// A failing listing is logged and skipped.
func (s *SQLiteStore) UpsertListings(ctx context.Context, listings []*models.Listing) (int, error) {
	saved := 0
	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if _, err := s.UpsertListing(ctx, l); err != nil {
			s.logger.Warn("[storage] Skipping listing %s: %v", l.URL, err)
			continue
		}
		saved++
	}
	s.logger.Info("[storage] Saved %d/%d listings", saved, len(listings))
	return saved, nil
}

// Write implements ListingWriter.
func (s *SQLiteStore) Write(listings []*models.Listing) error {
	_, err := s.UpsertListings(context.Background(), listings)
	return err
}

// GetListing returns one listing by id.
func (s *SQLiteStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	err := s.db.GetContext(ctx, &l, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, utils.NewError(utils.ErrNotFound, "listing %s not found", id)
	}
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "get listing "+id, err)
	}
	return &l, nil
}

// ListingsPaginated returns one page of active listings.
func (s *SQLiteStore) ListingsPaginated(ctx context.Context, filters models.ListingFilters, page, perPage int, sort models.SortOrder) (*models.Page, error) {
	page, perPage = s.clampPage(page, perPage)
	where, args := filterClause(filters)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM listings WHERE `+where, args...); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "count listings", err)
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE ` + where +
		` ORDER BY ` + orderClause(sort) + ` LIMIT ? OFFSET ?`
	var listings []*models.Listing
	if err := s.db.SelectContext(ctx, &listings, query, append(args, perPage, (page-1)*perPage)...); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "list listings", err)
	}
	return models.NewPage(listings, total, page, perPage), nil
}

// Search runs a full-text phrase query over title, description, location
// and amenities. Queries shorter than the configured minimum return an
// empty page.
func (s *SQLiteStore) Search(ctx context.Context, q string, page, perPage int) (*models.Page, error) {
	page, perPage = s.clampPage(page, perPage)
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < s.opts.SearchMinLength {
		return models.NewPage(nil, 0, page, perPage), nil
	}
	match := `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
	where := `is_active = 1 AND id IN (SELECT id FROM listings_fts WHERE listings_fts MATCH ?)`

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM listings WHERE `+where, match); err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "count search", err)
	}

	var listings []*models.Listing
	err := s.db.SelectContext(ctx, &listings,
		`SELECT `+listingColumns+` FROM listings WHERE `+where+` ORDER BY scraped_date DESC, id LIMIT ? OFFSET ?`,
		match, perPage, (page-1)*perPage)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "search", err)
	}
	return models.NewPage(listings, total, page, perPage), nil
}

// ActiveListings returns up to limit active listings, newest first.
// A limit of 0 or less returns all of them.
func (s *SQLiteStore) ActiveListings(ctx context.Context, filters models.ListingFilters, limit int) ([]*models.Listing, error) {
	if limit <= 0 {
		limit = -1
	}
	where, args := filterClause(filters)
	var listings []*models.Listing
	err := s.db.SelectContext(ctx, &listings,
		`SELECT `+listingColumns+` FROM listings WHERE `+where+` ORDER BY scraped_date DESC, id LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "active listings", err)
	}
	return listings, nil
}

// ListingsMissingCoords returns active listings without lat/lng that have
// some location text to geocode.
func (s *SQLiteStore) ListingsMissingCoords(ctx context.Context, limit int) ([]*models.Listing, error) {
	if limit <= 0 {
		limit = -1
	}
	var listings []*models.Listing
	err := s.db.SelectContext(ctx, &listings, `SELECT `+listingColumns+` FROM listings
		WHERE is_active = 1 AND (lat IS NULL OR lng IS NULL)
		AND (COALESCE(colonia, '') != '' OR COALESCE(city, '') != '')
		ORDER BY data_quality_score DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "listings missing coordinates", err)
	}
	return listings, nil
}

// UpdateLocation sets coordinates and, when colonia is non-empty, the colonia.
func (s *SQLiteStore) UpdateLocation(ctx context.Context, id string, lat, lng float64, colonia string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET lat = ?, lng = ?,
		colonia = CASE WHEN ? != '' THEN ? ELSE colonia END WHERE id = ?`,
		lat, lng, colonia, colonia, id)
	if err != nil {
		return utils.Wrap(utils.ErrStorage, "update location "+id, err)
	}
	return requireRow(res, id)
}

// DeactivateListing hides a listing from every active query.
func (s *SQLiteStore) DeactivateListing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return utils.Wrap(utils.ErrStorage, "deactivate "+id, err)
	}
	return requireRow(res, id)
}

// IncrementViews bumps the view counter of a listing.
func (s *SQLiteStore) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE listings SET views_count = COALESCE(views_count, 0) + 1 WHERE id = ?`, id)
	if err != nil {
		return utils.Wrap(utils.ErrStorage, "increment views "+id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = s.opts.DefaultPageSize
	case perPage > s.opts.MaxPageSize:
		perPage = s.opts.MaxPageSize
	}
	return page, perPage
}

// filterClause builds the WHERE condition for active listings.
func filterClause(f models.ListingFilters) (string, []any) {
	conds := []string{"is_active = 1"}
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.City != "" {
		add("city = ? COLLATE NOCASE", f.City)
	}
	if f.Colonia != "" {
		add("colonia = ? COLLATE NOCASE", f.Colonia)
	}
	if f.PropertyType != "" {
		add("property_type = ?", f.PropertyType)
	}
	if f.MinPrice != nil {
		add("price_mxn >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price_mxn <= ?", *f.MaxPrice)
	}
	if f.Bedrooms != nil {
		add("bedrooms >= ?", *f.Bedrooms)
	}
	if f.Bathrooms != nil {
		add("bathrooms >= ?", *f.Bathrooms)
	}
	if f.MinSize != nil {
		add("size_m2 >= ?", *f.MinSize)
	}
	if f.MaxSize != nil {
		add("size_m2 <= ?", *f.MaxSize)
	}
	return strings.Join(conds, " AND "), args
}

func orderClause(sort models.SortOrder) string {
	switch sort {
	case models.SortPrice:
		return "price_mxn IS NULL, price_mxn ASC, id"
	case models.SortPriceDesc:
		return "price_mxn IS NULL, price_mxn DESC, id"
	case models.SortSize:
		return "size_m2 IS NULL, size_m2 DESC, id"
	case models.SortPricePerM2:
		return "price_per_m2 IS NULL, price_per_m2 ASC, id"
	case models.SortDealScore:
		// data quality is the stored proxy for the deal score
		return "data_quality_score DESC, scraped_date DESC, id"
	default:
		return "scraped_date DESC, id"
	}
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return utils.Wrap(utils.ErrStorage, "rows affected", err)
	}
	if n == 0 {
		return utils.NewError(utils.ErrNotFound, "listing %s not found", id)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
