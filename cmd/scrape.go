package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"polpi-mx/config"
	"polpi-mx/pipeline"
	"polpi-mx/scraper"
	"polpi-mx/services"
	"polpi-mx/storage"
)

// scrapeJob is a configured pipeline plus the writers it owns.
type scrapeJob struct {
	runner  *pipeline.Runner
	sources []scraper.Source
	closers []io.Closer
}

func (j *scrapeJob) run(ctx context.Context) (*pipeline.Summary, error) {
	return j.runner.Run(ctx, j.sources)
}

func (j *scrapeJob) Close() error {
	var first error
	for _, c := range j.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newScrapeJob wires the runner: raw CSV audit, optional Postgres mirror
// and scrape metrics on reg.
func (a *app) newScrapeJob(ctx context.Context, store pipeline.Store, names []string, pages int, reg prometheus.Registerer) (*scrapeJob, error) {
	catalog, err := config.LoadSources(a.cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	entries, err := catalog.Select(names)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no enabled sources in catalog")
	}
	if pages > 0 {
		for i := range entries {
			entries[i].MaxPages = pages
		}
	}

	sources, err := pipeline.BuildSources(entries, scraper.OptionsFromConfig(a.cfg), a.logger)
	if err != nil {
		return nil, err
	}

	job := &scrapeJob{sources: sources}
	opts := pipeline.Options{
		Cleaner:        services.NewCleaner(a.logger, a.cfg.USDRate),
		Deduper:        services.NewDeduper(a.logger),
		Metrics:        pipeline.NewMetrics(reg),
		MaxConcurrency: a.cfg.MaxConcurrency,
	}

	if a.cfg.CSVOutputPath != "" {
		raw, err := storage.NewCSVWriter(a.cfg.CSVOutputPath)
		if err != nil {
			return nil, err
		}
		opts.RawWriter = raw
		job.closers = append(job.closers, raw)
	}

	if a.cfg.PostgresEnabled {
		pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN())
		if err != nil {
			a.logger.Warn("[scrape] Postgres mirror disabled: %v", err)
		} else {
			opts.Mirror = pg
			job.closers = append(job.closers, pg)
		}
	}

	job.runner = pipeline.NewRunner(store, a.logger, opts)
	return job, nil
}

func newScrapeCommand(a *app) *cobra.Command {
	var (
		names []string
		pages int
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape the configured listing sources",
		Long: `Scrape every enabled source in the catalog (or only those named with --source),
clean and store the listings, then refresh duplicates and market aggregates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := a.newScrapeJob(ctx, store, names, pages, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer job.Close()

			sum, err := job.run(ctx)
			if sum != nil {
				printSummary(cmd.OutOrStdout(), sum)
			}
			if err != nil {
				return err
			}
			if sum.Stored() == 0 && len(sum.Failed()) == len(sum.Sources) {
				return fmt.Errorf("every source failed")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&names, "source", nil, "source name to scrape (repeatable)")
	cmd.Flags().IntVar(&pages, "pages", 0, "pages per source (overrides the catalog)")
	return cmd
}

func printSummary(w io.Writer, sum *pipeline.Summary) {
	t := newTable(w, "Scrape run "+sum.RunID)
	t.AppendHeader(table.Row{"Source", "Raw", "Clean", "Stored", "Duration", "Error"})
	for _, r := range sum.Sources {
		t.AppendRow(table.Row{r.Source, r.Raw, r.Clean, r.Stored, r.Duration.Round(time.Millisecond), r.Error})
	}
	t.AppendFooter(table.Row{"Total", "", "", sum.Stored(), sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond), ""})
	t.Render()
	fmt.Fprintf(w, "Duplicates: %d | trend rows: %d | neighborhood stats rows: %d\n",
		sum.Duplicates, sum.TrendRows, sum.StatsRows)
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}
