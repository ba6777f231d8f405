package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"polpi-mx/utils"
)

// Options tunes query limits of the SQLite store.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	SearchMinLength int
}

func (o *Options) applyDefaults() {
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 20
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 100
	}
	if o.SearchMinLength <= 0 {
		o.SearchMinLength = 3
	}
}

// SQLiteStore is the primary listing store.
type SQLiteStore struct {
	db     *sqlx.DB
	opts   Options
	logger *utils.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id                 TEXT PRIMARY KEY,
	source             TEXT NOT NULL,
	source_id          TEXT,
	url                TEXT,
	title              TEXT,
	price_mxn          REAL,
	price_usd          REAL,
	property_type      TEXT,
	bedrooms           INTEGER,
	bathrooms          INTEGER,
	size_m2            REAL,
	lot_size_m2        REAL,
	state              TEXT,
	city               TEXT,
	colonia            TEXT,
	lat                REAL,
	lng                REAL,
	description        TEXT,
	images             TEXT,
	agent_name         TEXT,
	agent_phone        TEXT,
	listed_date        TEXT,
	scraped_date       TEXT NOT NULL,
	amenities          TEXT,
	parking_spaces     INTEGER,
	data_quality_score REAL DEFAULT 0,
	raw_data           TEXT,
	is_active          INTEGER DEFAULT 1,
	views_count        INTEGER DEFAULT 0,
	UNIQUE(source, source_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_city          ON listings(city);
CREATE INDEX IF NOT EXISTS idx_listings_colonia       ON listings(colonia);
CREATE INDEX IF NOT EXISTS idx_listings_property_type ON listings(property_type);
CREATE INDEX IF NOT EXISTS idx_listings_price         ON listings(price_mxn);
CREATE INDEX IF NOT EXISTS idx_listings_price_size    ON listings(price_mxn, size_m2);
CREATE INDEX IF NOT EXISTS idx_listings_location      ON listings(lat, lng);
CREATE INDEX IF NOT EXISTS idx_listings_size          ON listings(size_m2);
CREATE INDEX IF NOT EXISTS idx_listings_bedrooms      ON listings(bedrooms);
CREATE INDEX IF NOT EXISTS idx_listings_bathrooms     ON listings(bathrooms);
CREATE INDEX IF NOT EXISTS idx_listings_scraped_date  ON listings(scraped_date);
CREATE INDEX IF NOT EXISTS idx_listings_listed_date   ON listings(listed_date);
CREATE INDEX IF NOT EXISTS idx_listings_is_active     ON listings(is_active);
CREATE INDEX IF NOT EXISTS idx_listings_quality       ON listings(data_quality_score);
CREATE INDEX IF NOT EXISTS idx_listings_city_colonia_type ON listings(city, colonia, property_type);

CREATE VIRTUAL TABLE IF NOT EXISTS listings_fts USING fts5(
	id UNINDEXED,
	title,
	description,
	city,
	colonia,
	amenities,
	tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TABLE IF NOT EXISTS duplicates (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	canonical_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	duplicate_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	confidence   REAL,
	UNIQUE(canonical_id, duplicate_id)
);

CREATE TABLE IF NOT EXISTS price_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id    TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	price_mxn     REAL,
	price_usd     REAL,
	recorded_date TEXT NOT NULL,
	source        TEXT
);
CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history(listing_id);

CREATE TABLE IF NOT EXISTS market_trends (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	city             TEXT NOT NULL,
	colonia          TEXT NOT NULL DEFAULT '',
	property_type    TEXT NOT NULL DEFAULT '',
	year_month       TEXT NOT NULL,
	avg_price_mxn    REAL,
	avg_price_per_m2 REAL,
	median_price_mxn REAL,
	listing_count    INTEGER,
	created_date     TEXT,
	UNIQUE(city, colonia, property_type, year_month)
);

CREATE TABLE IF NOT EXISTS neighborhood_stats (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	city                TEXT NOT NULL,
	colonia             TEXT NOT NULL,
	property_type       TEXT NOT NULL DEFAULT '',
	avg_price_mxn       REAL,
	avg_price_per_m2    REAL,
	median_price_mxn    REAL,
	median_price_per_m2 REAL,
	p25_price_mxn       REAL,
	p75_price_mxn       REAL,
	p90_price_mxn       REAL,
	min_price_mxn       REAL,
	max_price_mxn       REAL,
	listing_count       INTEGER,
	last_updated        TEXT,
	UNIQUE(city, colonia, property_type)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	raw_count    INTEGER DEFAULT 0,
	stored_count INTEGER DEFAULT 0,
	error        TEXT
);
`

// Open opens (creating if needed) the SQLite database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, opts Options, logger *utils.Logger) (*SQLiteStore, error) {
	opts.applyDefaults()
	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)" +
			"&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, opts: opts, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	logger.Debug("[storage] SQLite ready at %s", path)
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Options returns the effective query limits.
func (s *SQLiteStore) Options() Options {
	return s.opts
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
