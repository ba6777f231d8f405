package storage

import (
	"context"
	"time"

	"polpi-mx/models"
	"polpi-mx/utils"
)

// SaveDuplicates stores duplicate pairs, ignoring pairs already known.
// It returns how many pairs were new.
func (s *SQLiteStore) SaveDuplicates(ctx context.Context, pairs []models.DuplicatePair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, utils.Wrap(utils.ErrStorage, "begin duplicates", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO duplicates (canonical_id, duplicate_id, confidence) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, utils.Wrap(utils.ErrStorage, "prepare duplicates", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range pairs {
		res, err := stmt.ExecContext(ctx, p.CanonicalID, p.DuplicateID, p.Confidence)
		if err != nil {
			return 0, utils.Wrap(utils.ErrStorage, "insert duplicate", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, utils.Wrap(utils.ErrStorage, "commit duplicates", err)
	}
	return inserted, nil
}

// Duplicates returns every stored pair, highest confidence first.
func (s *SQLiteStore) Duplicates(ctx context.Context) ([]models.DuplicatePair, error) {
	var pairs []models.DuplicatePair
	err := s.db.SelectContext(ctx, &pairs, `SELECT canonical_id, duplicate_id, COALESCE(confidence, 0) AS confidence
		FROM duplicates ORDER BY confidence DESC, canonical_id, duplicate_id`)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "duplicates", err)
	}
	return pairs, nil
}

// PriceHistory returns the recorded prices of a listing, oldest first.
func (s *SQLiteStore) PriceHistory(ctx context.Context, id string) ([]models.PriceHistoryEntry, error) {
	var entries []models.PriceHistoryEntry
	err := s.db.SelectContext(ctx, &entries, `SELECT listing_id, price_mxn, price_usd, recorded_date,
		COALESCE(source, '') AS source
		FROM price_history WHERE listing_id = ? ORDER BY recorded_date, id`, id)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "price history "+id, err)
	}
	return entries, nil
}

// RecordRun saves the bookkeeping row of one source run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run models.ScrapeRun) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO scrape_runs
		(id, source, started_at, finished_at, raw_count, stored_count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			raw_count = excluded.raw_count,
			stored_count = excluded.stored_count,
			error = excluded.error`,
		run.ID, run.Source, run.StartedAt.UTC().Format(time.RFC3339Nano), finished,
		run.RawCount, run.StoredCount, nullIfEmpty(run.Error))
	if err != nil {
		return utils.Wrap(utils.ErrStorage, "record run "+run.ID, err)
	}
	return nil
}

// RecentRuns returns the latest source runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]models.ScrapeRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []struct {
		ID          string `db:"id"`
		Source      string `db:"source"`
		StartedAt   string `db:"started_at"`
		FinishedAt  string `db:"finished_at"`
		RawCount    int    `db:"raw_count"`
		StoredCount int    `db:"stored_count"`
		Error       string `db:"error"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT id, source, started_at,
		COALESCE(finished_at, '') AS finished_at, COALESCE(raw_count, 0) AS raw_count,
		COALESCE(stored_count, 0) AS stored_count, COALESCE(error, '') AS error
		FROM scrape_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, utils.Wrap(utils.ErrStorage, "recent runs", err)
	}

	runs := make([]models.ScrapeRun, 0, len(rows))
	for _, r := range rows {
		run := models.ScrapeRun{
			ID:          r.ID,
			Source:      r.Source,
			RawCount:    r.RawCount,
			StoredCount: r.StoredCount,
			Error:       r.Error,
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, r.StartedAt)
		if r.FinishedAt != "" {
			run.FinishedAt, _ = time.Parse(time.RFC3339Nano, r.FinishedAt)
		}
		runs = append(runs, run)
	}
	return runs, nil
}
