package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"polpi-mx/models"
)

const (
	pgBatchSize   = 50
	pgPingRetries = 10
	pgColumns     = 17
)

// PostgresWriter mirrors cleaned listings into PostgreSQL for warehouse use.
type PostgresWriter struct {
	db *sql.DB
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < pgPingRetries; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("postgres: ping: %w", ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := newPostgresWriterFromDB(db)
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func newPostgresWriterFromDB(db *sql.DB) *PostgresWriter {
	return &PostgresWriter{db: db}
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id                 VARCHAR(32) PRIMARY KEY,
			source             VARCHAR(50) NOT NULL,
			source_id          TEXT,
			url                TEXT NOT NULL DEFAULT '',
			title              TEXT NOT NULL DEFAULT '',
			price_mxn          NUMERIC(14,2),
			price_usd          NUMERIC(14,2),
			property_type      VARCHAR(32) NOT NULL DEFAULT '',
			bedrooms           INTEGER,
			bathrooms          INTEGER,
			size_m2            NUMERIC(10,2),
			city               TEXT NOT NULL DEFAULT '',
			colonia            TEXT NOT NULL DEFAULT '',
			lat                DOUBLE PRECISION,
			lng                DOUBLE PRECISION,
			data_quality_score NUMERIC(4,2) NOT NULL DEFAULT 0,
			scraped_date       TEXT NOT NULL,
			synced_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_price   ON listings(price_mxn);
		CREATE INDEX IF NOT EXISTS idx_listings_city    ON listings(city);
		CREATE INDEX IF NOT EXISTS idx_listings_colonia ON listings(colonia);
		CREATE INDEX IF NOT EXISTS idx_listings_source  ON listings(source);
	`)
	return err
}

// Clear deletes all mirrored listings.
func (pw *PostgresWriter) Clear() error {
	_, err := pw.db.Exec("DELETE FROM listings")
	if err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	return nil
}

// Write upserts listings in batches of 50.
func (pw *PostgresWriter) Write(listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	for i := 0; i < len(listings); i += pgBatchSize {
		end := i + pgBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		if err := pw.insertBatch(listings[i:end]); err != nil {
			return fmt.Errorf("postgres: batch at %d: %w", i, err)
		}
	}
	return nil
}

func (pw *PostgresWriter) insertBatch(batch []*models.Listing) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*pgColumns)

	for idx, l := range batch {
		base := idx * pgColumns
		placeholders := make([]string, pgColumns)
		for c := range placeholders {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs,
			l.ID, l.Source, nullIfEmpty(l.SourceID), l.URL, l.Title,
			l.PriceMXN, l.PriceUSD, l.PropertyType, l.Bedrooms, l.Bathrooms, l.SizeM2,
			l.City, l.Colonia, l.Lat, l.Lng, l.DataQualityScore, l.ScrapedDate)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (id, source, source_id, url, title, price_mxn, price_usd,
			property_type, bedrooms, bathrooms, size_m2, city, colonia, lat, lng,
			data_quality_score, scraped_date)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET
			price_mxn = EXCLUDED.price_mxn,
			price_usd = EXCLUDED.price_usd,
			title = EXCLUDED.title,
			size_m2 = EXCLUDED.size_m2,
			city = EXCLUDED.city,
			colonia = EXCLUDED.colonia,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			data_quality_score = EXCLUDED.data_quality_score,
			scraped_date = EXCLUDED.scraped_date,
			synced_at = NOW()
	`, strings.Join(valueStrings, ","))

	_, err := pw.db.Exec(query, valueArgs...)
	return err
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}

// FetchAll retrieves every mirrored listing, ordered by id.
func (pw *PostgresWriter) FetchAll() ([]*models.Listing, error) {
	rows, err := pw.db.Query(`
		SELECT id, source, COALESCE(source_id, ''), url, title, price_mxn, price_usd,
			property_type, bedrooms, bathrooms, size_m2, city, colonia, lat, lng,
			data_quality_score, scraped_date
		FROM listings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch all: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{IsActive: true}
		if err := rows.Scan(
			&l.ID, &l.Source, &l.SourceID, &l.URL, &l.Title, &l.PriceMXN, &l.PriceUSD,
			&l.PropertyType, &l.Bedrooms, &l.Bathrooms, &l.SizeM2, &l.City, &l.Colonia,
			&l.Lat, &l.Lng, &l.DataQualityScore, &l.ScrapedDate,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}
