package cmd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"polpi-mx/geocode"
	"polpi-mx/models"
	"polpi-mx/services"
	"polpi-mx/sitegen"
	"polpi-mx/storage"
)

func newDedupeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Detect cross-source duplicate listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			listings, err := store.ActiveListings(ctx, models.ListingFilters{}, 0)
			if err != nil {
				return err
			}
			pairs := services.NewDeduper(a.logger).Find(listings)
			added, err := store.SaveDuplicates(ctx, pairs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d listings: %d duplicate pairs, %d new\n", len(listings), len(pairs), added)
			return nil
		},
	}
}

func (a *app) newGeocoder() *geocode.Client {
	return geocode.New(geocode.Options{BaseURL: a.cfg.NominatimURL, RPS: a.cfg.GeocodeRPS}, a.logger)
}

func newGeocodeCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Backfill coordinates of listings that have a colonia but no location",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := geocode.GeocodeMissing(ctx, a.newGeocoder(), store, limit, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d | updated %d | skipped %d | not found %d | failed %d\n",
				res.Checked, res.Updated, res.Skipped, res.NotFound, res.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum listings to geocode")

	cmd.AddCommand(&cobra.Command{
		Use:   "lookup <address | lat,lng>",
		Short: "Geocode one address or reverse-geocode a coordinate pair",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.newGeocoder().Lookup(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res == nil {
				fmt.Fprintln(w, "No match")
				return nil
			}
			t := newTable(w, "Geocode")
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRow(table.Row{"Latitude", fmt.Sprintf("%.6f", res.Lat)})
			t.AppendRow(table.Row{"Longitude", fmt.Sprintf("%.6f", res.Lng)})
			t.AppendRow(table.Row{"Address", res.Address})
			t.AppendRow(table.Row{"Colonia", res.Colonia})
			t.AppendRow(table.Row{"Delegación", res.Delegacion})
			t.AppendRow(table.Row{"City", res.City})
			t.Render()
			return nil
		},
	})
	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export clean listings to CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "csv" && format != "xlsx" {
				return fmt.Errorf("unsupported format %q (csv or xlsx)", format)
			}
			if out == "" {
				out = "output/listings." + format
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			listings, err := store.ActiveListings(ctx, models.ListingFilters{}, 0)
			if err != nil {
				return err
			}

			switch format {
			case "csv":
				w, err := storage.NewListingCSVWriter(out)
				if err != nil {
					return err
				}
				if err := w.Write(listings); err != nil {
					w.Close()
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			case "xlsx":
				stats, err := store.StoredNeighborhoodStats(ctx)
				if err != nil {
					return err
				}
				w, err := storage.NewXLSXWriter(out)
				if err != nil {
					return err
				}
				if err := w.Write(listings); err != nil {
					return err
				}
				if err := w.WriteStats(stats); err != nil {
					return err
				}
				if err := w.Close(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d listings to %s\n", len(listings), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "output path (default output/listings.<format>)")
	return cmd
}

func newBuildDocsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build-docs",
		Short: "Bundle the web frontend into a self-contained docs/index.html",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			size, err := sitegen.NewBuilder(a.cfg.StaticDir, a.cfg.DocsDir, store, a.logger).Build(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Built %s/index.html (%.1f KB)\n", a.cfg.DocsDir, float64(size)/1024)
			return nil
		},
	}
}

func newMirrorCommand(a *app) *cobra.Command {
	var wipe bool
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Push active listings to the PostgreSQL mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			pg, err := storage.NewPostgresWriter(ctx, a.cfg.DSN())
			if err != nil {
				return err
			}
			defer pg.Close()

			if wipe {
				if err := pg.Clear(); err != nil {
					return err
				}
			}
			listings, err := store.ActiveListings(ctx, models.ListingFilters{}, 0)
			if err != nil {
				return err
			}
			if err := pg.Write(listings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mirrored %d listings to %s@%s/%s\n",
				len(listings), a.cfg.PostgresUser, a.cfg.PostgresHost, a.cfg.PostgresDB)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wipe, "clear", false, "truncate the mirror table first")
	return cmd
}
