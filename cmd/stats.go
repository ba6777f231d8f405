package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"polpi-mx/models"
	"polpi-mx/services"
	"polpi-mx/utils"
)

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print platform statistics and insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			cities, err := store.CitiesWithStats(ctx)
			if err != nil {
				return err
			}
			listings, err := store.ActiveListings(ctx, models.ListingFilters{}, 0)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printPlatformStats(w, stats, cities)
			insights := services.NewInsightService(a.logger)
			insights.Print(insights.Generate(listings), w)
			return nil
		},
	}
}

func printPlatformStats(w io.Writer, stats *models.PlatformStats, cities []models.CityStats) {
	t := newTable(w, "POLPI MX · PLATFORM")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Active listings", stats.TotalListings})
	t.AppendRow(table.Row{"Cities", stats.Cities})
	t.AppendRow(table.Row{"Colonias", stats.Colonias})
	if stats.LastScraped != "" {
		t.AppendRow(table.Row{"Last scraped", stats.LastScraped})
	}
	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		t.AppendRow(table.Row{"Source: " + s, stats.BySource[s]})
	}
	t.Render()

	if len(stats.PropertyTypes) > 0 {
		pt := newTable(w, "Property types")
		pt.AppendHeader(table.Row{"Type", "Listings", "Avg price", "Avg price/m²"})
		for _, p := range stats.PropertyTypes {
			pt.AppendRow(table.Row{p.PropertyType, p.Count, money(p.AvgPriceMXN), money(p.AvgPricePerM2)})
		}
		pt.Render()
	}

	if len(cities) > 0 {
		ct := newTable(w, "Cities")
		ct.AppendHeader(table.Row{"City", "Listings", "Avg price", "Avg price/m²", "Avg size m²"})
		for _, c := range cities {
			ct.AppendRow(table.Row{c.City, c.ListingCount, money(c.AvgPriceMXN), money(c.AvgPricePerM2), number(c.AvgSizeM2)})
		}
		ct.Render()
	}
}

func newAnalyzeCommand(a *app) *cobra.Command {
	var (
		city  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "analyze [listing-id]",
		Short: "Analyze a listing, or refresh aggregates and list trending deals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			intel := services.NewIntelligence(store, a.logger)
			w := cmd.OutOrStdout()

			if len(args) == 1 {
				analysis, err := intel.AnalyzeListing(ctx, args[0])
				if err != nil {
					return err
				}
				printAnalysis(w, analysis)

				inv, err := intel.InvestmentAnalysis(ctx, args[0])
				switch {
				case utils.IsKind(err, utils.ErrInvalidInput):
					fmt.Fprintf(w, "Investment analysis unavailable: %v\n", err)
				case err != nil:
					return err
				default:
					printInvestment(w, inv)
				}
				return nil
			}

			trends, statsRows, err := store.RecomputeAggregates(ctx, time.Now())
			if err != nil {
				return err
			}
			a.logger.Info("[analyze] Recomputed %d trend rows and %d neighborhood stats", trends, statsRows)

			trending, err := intel.TrendingListings(ctx, city, limit)
			if err != nil {
				return err
			}
			t := newTable(w, "Trending listings")
			t.AppendHeader(table.Row{"#", "ID", "Title", "Colonia", "Price", "Score", "Recommendation"})
			for i, l := range trending {
				t.AppendRow(table.Row{i + 1, l.ID, truncate(l.Title, 36), l.Colonia, money(l.PriceMXN), fmt.Sprintf("%.2f", l.DealScore), l.Recommendation})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&city, "city", "", "restrict trending listings to a city")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of trending listings")
	return cmd
}

func newAnalyzeURLCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze-url <url>",
		Short: "Score a Lamudi, MercadoLibre, Inmuebles24 or Vivanuncios listing URL against the local market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			analyzer := services.NewURLAnalyzer(a.listingFetcher(),
				services.NewCleaner(a.logger, a.cfg.USDRate), services.NewIntelligence(store, a.logger), a.logger)
			res, err := analyzer.Analyze(ctx, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			l := res.Listing
			t := newTable(w, "Listing · "+l.Source)
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRow(table.Row{"Title", truncate(l.Title, 60)})
			t.AppendRow(table.Row{"Type", l.PropertyType})
			t.AppendRow(table.Row{"Colonia", l.Colonia})
			t.AppendRow(table.Row{"City", l.City})
			if l.Bedrooms != nil {
				t.AppendRow(table.Row{"Bedrooms", *l.Bedrooms})
			}
			t.AppendRow(table.Row{"URL", l.URL})
			t.Render()
			printAnalysis(w, res.Analysis)
			return nil
		},
	}
}

func printAnalysis(w io.Writer, an *models.ListingAnalysis) {
	t := newTable(w, "Listing "+an.ListingID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Price (MXN)", money(an.PriceMXN)})
	t.AppendRow(table.Row{"Size (m²)", number(an.SizeM2)})
	t.AppendRow(table.Row{"Price/m²", money(an.PricePerM2)})
	t.AppendRow(table.Row{"Deal score", fmt.Sprintf("%.2f", an.DealScore)})
	t.AppendRow(table.Row{"Recommendation", an.Recommendation})
	if an.IsAnomaly {
		t.AppendRow(table.Row{"Anomaly", an.AnomalyType})
	}
	if ns := an.NeighborhoodStats; ns != nil {
		t.AppendRow(table.Row{"Colonia listings", ns.ListingCount})
		t.AppendRow(table.Row{"Colonia median price", money(&ns.MedianPriceMXN)})
		t.AppendRow(table.Row{"Colonia median price/m²", money(ns.MedianPricePerM2)})
	}
	t.Render()

	if len(an.Comparables) == 0 {
		return
	}
	c := newTable(w, "Comparables")
	c.AppendHeader(table.Row{"ID", "Title", "Price", "Size m²"})
	for _, cmp := range an.Comparables {
		c.AppendRow(table.Row{cmp.ID, truncate(cmp.Title, 36), money(cmp.PriceMXN), number(cmp.SizeM2)})
	}
	c.Render()
}

func printInvestment(w io.Writer, inv *models.InvestmentAnalysis) {
	t := newTable(w, "Investment")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Grade", inv.Grade})
	t.AppendRow(table.Row{"Rental yield", fmt.Sprintf("%.2f%%", inv.RentalYield)})
	t.AppendRow(table.Row{"Monthly rent", money(&inv.MonthlyRent)})
	t.AppendRow(table.Row{"Cap rate", fmt.Sprintf("%.2f%%", inv.Leverage.CapRate)})
	t.AppendRow(table.Row{"Cash on cash", fmt.Sprintf("%.2f%%", inv.Leverage.CashOnCashReturn)})
	t.AppendRow(table.Row{"Monthly mortgage", money(&inv.Leverage.MonthlyPayment)})
	t.Render()

	for _, r := range inv.RiskFactors {
		fmt.Fprintf(w, "  risk: %s\n", r)
	}
	for _, r := range inv.Recommendations {
		fmt.Fprintf(w, "  tip:  %s\n", r)
	}
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("$%s", thousands(*v))
}

func number(v *float64) string {
	if v == nil {
		return "-"
	}
	return thousands(*v)
}

func thousands(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := len(s) > 0 && s[0] == '-'
	if neg {
		s = s[1:]
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
