package cmd

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"polpi-mx/api"
	"polpi-mx/pipeline"
	"polpi-mx/zoning"
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API and the background scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := zoning.Load(a.cfg.ZoningFile)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			srv := api.NewServer(api.Config{
				Addr:            a.cfg.Addr(),
				Debug:           a.cfg.Debug,
				CORSOrigins:     a.cfg.CORSOrigins,
				StaticDir:       a.cfg.StaticDir,
				DefaultPageSize: a.cfg.DefaultPageSize,
				MaxPageSize:     a.cfg.MaxPageSize,
				SearchMinLength: a.cfg.SearchMinLength,
				Registry:        reg,
			}, store, rules, a.logger)

			sched := pipeline.NewScheduler(a.logger)
			err = sched.Add("aggregates", a.cfg.AggregateSchedule, func(ctx context.Context) error {
				trends, stats, err := store.RecomputeAggregates(ctx, time.Now())
				if err == nil {
					a.logger.Info("[scheduler] Recomputed %d trend rows and %d neighborhood stats", trends, stats)
				}
				return err
			})
			if err != nil {
				return err
			}
			if a.cfg.ScrapeSchedule != "" {
				job, err := a.newScrapeJob(ctx, store, nil, 0, reg)
				if err != nil {
					return err
				}
				defer job.Close()
				err = sched.Add("scrape", a.cfg.ScrapeSchedule, func(ctx context.Context) error {
					sum, err := job.run(ctx)
					if sum != nil {
						a.logger.Info("[scheduler] Scrape run %s stored %d listings (%d sources failed)",
							sum.RunID, sum.Stored(), len(sum.Failed()))
					}
					return err
				})
				if err != nil {
					return err
				}
			}
			sched.Start()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				sched.Stop(context.Background())
				return err
			case <-ctx.Done():
				a.logger.Info("[serve] Shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(shutdownCtx)
			return srv.Shutdown(shutdownCtx)
		},
	}
}
