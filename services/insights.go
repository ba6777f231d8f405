package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"polpi-mx/models"
	"polpi-mx/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []*models.Listing) *models.InsightReport {
	report := &models.InsightReport{
		BySource:          make(map[string]int),
		ListingsByCity:    make(map[string]int),
		ListingsByColonia: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []*models.Listing
	var ppm2 []float64

	for _, l := range listings {
		report.BySource[l.Source]++
		if l.Price() > 0 {
			priced = append(priced, l)
		}
		if p := PricePerM2(l); p != nil {
			ppm2 = append(ppm2, *p)
		}
		if l.City != "" {
			report.ListingsByCity[l.City]++
		}
		if l.Colonia != "" {
			report.ListingsByColonia[l.Colonia]++
		}
	}

	// Price stats (only listings with a price)
	if len(priced) > 0 {
		report.MinPrice = priced[0].Price()
		report.MaxPrice = priced[0].Price()
		report.MostExpensive = priced[0]
		var total float64
		for _, l := range priced {
			p := l.Price()
			total += p
			if p < report.MinPrice {
				report.MinPrice = p
			}
			if p > report.MaxPrice {
				report.MaxPrice = p
				report.MostExpensive = l
			}
		}
		report.AveragePrice = round2(total / float64(len(priced)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}
	if len(ppm2) > 0 {
		var total float64
		for _, v := range ppm2 {
			total += v
		}
		report.AvgPricePerM2 = round2(total / float64(len(ppm2)))
	}

	// Top 5 by data quality
	ranked := append([]*models.Listing(nil), listings...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DataQualityScore > ranked[j].DataQualityScore
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	report.TopQuality = ranked

	return report
}

// Print renders the report as terminal tables.
func (s *InsightService) Print(r *models.InsightReport, w io.Writer) {
	overview := newTable(w, "POLPI MX · SCRAPE INSIGHTS")
	overview.AppendHeader(table.Row{"Metric", "Value"})
	overview.AppendRow(table.Row{"Total listings", r.TotalListings})
	if r.AveragePrice > 0 {
		overview.AppendRow(table.Row{"Average price (MXN)", money(r.AveragePrice)})
		overview.AppendRow(table.Row{"Minimum price (MXN)", money(r.MinPrice)})
		overview.AppendRow(table.Row{"Maximum price (MXN)", money(r.MaxPrice)})
	} else {
		overview.AppendRow(table.Row{"Prices", "No price data available"})
	}
	if r.AvgPricePerM2 > 0 {
		overview.AppendRow(table.Row{"Average price/m² (MXN)", money(r.AvgPricePerM2)})
	}
	if r.MostExpensive != nil {
		overview.AppendRow(table.Row{"Most expensive", truncate(r.MostExpensive.Title, 50)})
	}
	overview.Render()

	sources := newTable(w, "Listings by source")
	sources.AppendHeader(table.Row{"Source", "Listings"})
	for _, kv := range sortedCounts(r.BySource) {
		sources.AppendRow(table.Row{kv.key, kv.count})
	}
	sources.Render()

	top := newTable(w, "Top 5 most complete listings")
	top.AppendHeader(table.Row{"#", "Title", "Colonia", "Price (MXN)", "Quality"})
	if len(r.TopQuality) == 0 {
		top.AppendRow(table.Row{"-", "No listings found", "", "", ""})
	}
	for i, l := range r.TopQuality {
		top.AppendRow(table.Row{i + 1, truncate(l.Title, 38), l.Colonia, money(l.Price()), fmt.Sprintf("%.2f", l.DataQualityScore)})
	}
	top.Render()

	locations := newTable(w, "Listings by colonia")
	locations.AppendHeader(table.Row{"Colonia", "Listings", ""})
	counts := sortedCounts(r.ListingsByColonia)
	if len(counts) == 0 {
		locations.AppendRow(table.Row{"No location data", "", ""})
	}
	for _, kv := range counts {
		locations.AppendRow(table.Row{truncate(kv.key, 28), kv.count, strings.Repeat("█", min(kv.count, 40))})
	}
	locations.Render()
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

type keyCount struct {
	key   string
	count int
}

// sortedCounts orders a count map by count descending, then key.
func sortedCounts(m map[string]int) []keyCount {
	out := make([]keyCount, 0, len(m))
	for k, v := range m {
		if k != "" {
			out = append(out, keyCount{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	return out
}

// money formats an amount with thousands separators.
func money(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
