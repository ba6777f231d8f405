// Package pipeline runs scrape sources end to end: scrape, audit, clean,
// store, mirror, then cross-source dedupe and aggregate refresh.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"polpi-mx/config"
	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/scraper/browser"
	"polpi-mx/scraper/portals"
	"polpi-mx/services"
	"polpi-mx/storage"
	"polpi-mx/utils"
)

// Store is the persistence the runner needs.
type Store interface {
	UpsertListings(ctx context.Context, listings []*models.Listing) (int, error)
	ActiveListings(ctx context.Context, filters models.ListingFilters, limit int) ([]*models.Listing, error)
	SaveDuplicates(ctx context.Context, pairs []models.DuplicatePair) (int, error)
	RecomputeAggregates(ctx context.Context, now time.Time) (int, int, error)
	RecordRun(ctx context.Context, run models.ScrapeRun) error
}

// Options wires the optional parts of a Runner. Nil writers and metrics are
// skipped.
type Options struct {
	Cleaner        *services.Cleaner
	Deduper        *services.Deduper
	RawWriter      storage.RawListingWriter
	Mirror         storage.ListingWriter
	Metrics        *Metrics
	MaxConcurrency int
}

// Runner executes scrape runs.
type Runner struct {
	store   Store
	opts    Options
	logger  *utils.Logger
	now     func() time.Time
	running sync.Mutex
}

// NewRunner creates a Runner over store.
func NewRunner(store Store, logger *utils.Logger, opts Options) *Runner {
	if opts.Cleaner == nil {
		opts.Cleaner = services.NewCleaner(logger, 0)
	}
	if opts.Deduper == nil {
		opts.Deduper = services.NewDeduper(logger)
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Runner{store: store, opts: opts, logger: logger, now: time.Now}
}

// SourceResult is the outcome of one source inside a run.
type SourceResult struct {
	Source   string        `json:"source"`
	RunID    string        `json:"run_id"`
	Raw      int           `json:"raw"`
	Clean    int           `json:"clean"`
	Stored   int           `json:"stored"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceResult `json:"sources"`
	Duplicates int            `json:"duplicates"`
	TrendRows  int            `json:"trend_rows"`
	StatsRows  int            `json:"stats_rows"`
}

// Stored is the number of listings saved across all sources.
func (s *Summary) Stored() int {
	n := 0
	for _, r := range s.Sources {
		n += r.Stored
	}
	return n
}

// Failed returns the sources that ended in error.
func (s *Summary) Failed() []SourceResult {
	var out []SourceResult
	for _, r := range s.Sources {
		if r.Error != "" {
			out = append(out, r)
		}
	}
	return out
}

// Run scrapes every source concurrently. A failing source is recorded in
// the summary and never stops the others. The returned error covers only the
// cross-source steps that follow the scrapes. Runs do not overlap.
func (r *Runner) Run(ctx context.Context, sources []scraper.Source) (*Summary, error) {
	r.running.Lock()
	defer r.running.Unlock()

	sum := &Summary{RunID: uuid.NewString(), StartedAt: r.now().UTC()}
	r.logger.Info("[pipeline] Run %s starting with %d sources", sum.RunID, len(sources))

	results := make([]SourceResult, len(sources))
	pool := utils.NewWorkerPool(r.opts.MaxConcurrency, 0)
	for i, src := range sources {
		i, src := i, src
		results[i] = SourceResult{Source: src.Name(), Error: "not started"}
		pool.Submit(ctx, func(ctx context.Context) {
			results[i] = r.runSource(ctx, src)
		})
	}
	pool.Wait()
	sum.Sources = results

	if err := ctx.Err(); err != nil {
		sum.FinishedAt = r.now().UTC()
		return sum, err
	}

	if err := r.dedupe(ctx, sum); err != nil {
		return sum, err
	}

	trends, stats, err := r.store.RecomputeAggregates(ctx, r.now())
	if err != nil {
		return sum, fmt.Errorf("recompute aggregates: %w", err)
	}
	sum.TrendRows, sum.StatsRows = trends, stats
	sum.FinishedAt = r.now().UTC()

	r.logger.Info("[pipeline] Run %s done: %d stored, %d failed sources, %d new duplicates, %d trend rows, %d stats rows",
		sum.RunID, sum.Stored(), len(sum.Failed()), sum.Duplicates, trends, stats)
	return sum, nil
}

func (r *Runner) runSource(ctx context.Context, src scraper.Source) SourceResult {
	name := src.Name()
	run := models.ScrapeRun{ID: uuid.NewString(), Source: name, StartedAt: r.now().UTC()}
	res := SourceResult{Source: name, RunID: run.ID}
	log := r.logger.With("source", name, "run_id", run.ID)

	defer func() {
		run.FinishedAt = r.now().UTC()
		run.RawCount, run.StoredCount, run.Error = res.Raw, res.Stored, res.Error
		res.Duration = run.FinishedAt.Sub(run.StartedAt)
		if err := r.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("[pipeline] Could not record run: %v", err)
		}
		if m := r.opts.Metrics; m != nil {
			m.ScrapedTotal.WithLabelValues(name).Add(float64(res.Raw))
			m.StoredTotal.WithLabelValues(name).Add(float64(res.Stored))
			m.DurationSeconds.WithLabelValues(name).Observe(res.Duration.Seconds())
			if res.Error != "" {
				m.ErrorsTotal.WithLabelValues(name).Inc()
			}
		}
	}()

	raw, err := src.Scrape(ctx)
	res.Raw = len(raw)
	if err != nil && len(raw) == 0 {
		log.Error("[pipeline] %s scrape failed: %v", name, err)
		res.Error = err.Error()
		return res
	}
	if err != nil {
		log.Warn("[pipeline] %s scrape partially failed: %v", name, err)
	}
	log.Info("[pipeline] %s returned %d raw listings", name, len(raw))

	if r.opts.RawWriter != nil {
		if err := r.opts.RawWriter.WriteRaw(raw); err != nil {
			log.Warn("[pipeline] Raw CSV write failed: %v", err)
		}
	}

	clean := r.opts.Cleaner.Clean(raw)
	res.Clean = len(clean)

	stored, err := r.store.UpsertListings(ctx, clean)
	res.Stored = stored
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if r.opts.Mirror != nil && len(clean) > 0 {
		if err := r.opts.Mirror.Write(clean); err != nil {
			log.Warn("[pipeline] Mirror write failed: %v", err)
		}
	}
	return res
}

func (r *Runner) dedupe(ctx context.Context, sum *Summary) error {
	active, err := r.store.ActiveListings(ctx, models.ListingFilters{}, 0)
	if err != nil {
		return fmt.Errorf("load active listings: %w", err)
	}
	pairs := r.opts.Deduper.Find(active)
	added, err := r.store.SaveDuplicates(ctx, pairs)
	if err != nil {
		return fmt.Errorf("save duplicates: %w", err)
	}
	sum.Duplicates = added
	return nil
}

// BuildSources turns catalog entries into scrapers, picking the portal or
// browser implementation by kind.
func BuildSources(entries []config.Source, opts scraper.Options, logger *utils.Logger) ([]scraper.Source, error) {
	out := make([]scraper.Source, 0, len(entries))
	for _, e := range entries {
		var (
			src scraper.Source
			err error
		)
		switch e.Kind {
		case config.KindPortal:
			src, err = portals.New(e, opts, logger)
		case config.KindBrowser:
			src, err = browser.New(e, opts, logger)
		default:
			err = utils.NewError(utils.ErrInvalidInput, "source %s: unknown kind %q", e.Name, e.Kind)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}
