// Package cmd implements the polpi command-line interface.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"polpi-mx/config"
	"polpi-mx/scraper"
	"polpi-mx/scraper/portals"
	"polpi-mx/services"
	"polpi-mx/storage"
	"polpi-mx/utils"
)

// app carries what every subcommand needs. It is filled in by the root
// command's PersistentPreRun.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	// fetcher reads listing pages for analyze-url; nil uses the portals.
	fetcher services.ListingFetcher

	debug  bool
	dbPath string
}

func (a *app) init() {
	a.cfg = config.Load()
	if a.dbPath != "" {
		a.cfg.DBPath = a.dbPath
	}
	if a.debug {
		a.cfg.Debug = true
		a.cfg.LogLevel = "debug"
	}
	if a.logger == nil {
		a.logger = utils.NewLogger(utils.LogOptions{Level: a.cfg.LogLevel, Encoding: a.cfg.LogFormat})
	}
}

func (a *app) openStore(ctx context.Context) (*storage.SQLiteStore, error) {
	return storage.Open(ctx, a.cfg.DBPath, storage.Options{
		DefaultPageSize: a.cfg.DefaultPageSize,
		MaxPageSize:     a.cfg.MaxPageSize,
		SearchMinLength: a.cfg.SearchMinLength,
	}, a.logger)
}

func (a *app) listingFetcher() services.ListingFetcher {
	if a.fetcher != nil {
		return a.fetcher
	}
	return portals.NewDetailFetcher(scraper.OptionsFromConfig(a.cfg), a.logger)
}

// NewRootCommand builds the polpi command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "polpi",
		Short:         "Mexican real-estate scraping and price intelligence",
		Long:          `Polpi MX scrapes Mexican listing portals, stores clean listings in SQLite and serves price intelligence over a REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	root.AddCommand(
		newScrapeCommand(a),
		newServeCommand(a),
		newStatsCommand(a),
		newAnalyzeCommand(a),
		newAnalyzeURLCommand(a),
		newDedupeCommand(a),
		newGeocodeCommand(a),
		newZoningCommand(a),
		newExportCommand(a),
		newBuildDocsCommand(a),
		newMirrorCommand(a),
	)
	return root
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM cancels it.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}
