package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"polpi-mx/models"
)

const (
	listingsSheet      = "Listings"
	neighborhoodsSheet = "Neighborhoods"
)

var statsHeader = []string{
	"city", "colonia", "property_type", "listing_count", "avg_price_mxn", "median_price_mxn",
	"p25_price_mxn", "p75_price_mxn", "p90_price_mxn", "min_price_mxn", "max_price_mxn",
	"avg_price_per_m2", "median_price_per_m2",
}

// XLSXWriter exports listings and neighborhood statistics to a workbook.
// The file is written on Close.
type XLSXWriter struct {
	mu       sync.Mutex
	path     string
	file     *excelize.File
	nextRow  map[string]int
	hasStats bool
}

// NewXLSXWriter prepares a workbook with a Listings sheet.
func NewXLSXWriter(path string) (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", listingsSheet); err != nil {
		return nil, fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	w := &XLSXWriter{path: path, file: f, nextRow: make(map[string]int)}
	if err := w.writeRow(listingsSheet, toCells(listingHeader)); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends listings to the Listings sheet.
func (w *XLSXWriter) Write(listings []*models.Listing) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, l := range listings {
		row := []any{
			l.ID, l.Source, l.URL, l.Title,
			cellFloat(l.PriceMXN), cellFloat(l.PriceUSD), l.PropertyType,
			cellInt(l.Bedrooms), cellInt(l.Bathrooms),
			cellFloat(l.SizeM2), cellFloat(l.LotSizeM2), cellFloat(l.PricePerM2),
			l.City, l.Colonia, cellFloat(l.Lat), cellFloat(l.Lng),
			strings.Join(l.Amenities, ";"), l.DataQualityScore, l.ScrapedDate,
		}
		if err := w.writeRow(listingsSheet, row); err != nil {
			return err
		}
	}
	return nil
}

// WriteStats appends neighborhood statistics to the Neighborhoods sheet,
// creating it on first use.
func (w *XLSXWriter) WriteStats(stats []models.NeighborhoodStats) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasStats {
		if _, err := w.file.NewSheet(neighborhoodsSheet); err != nil {
			return fmt.Errorf("xlsx: new sheet: %w", err)
		}
		if err := w.writeRow(neighborhoodsSheet, toCells(statsHeader)); err != nil {
			return err
		}
		w.hasStats = true
	}

	for _, s := range stats {
		row := []any{
			s.City, s.Colonia, s.PropertyType, s.ListingCount, s.AvgPriceMXN, s.MedianPriceMXN,
			s.P25PriceMXN, s.P75PriceMXN, s.P90PriceMXN, s.MinPriceMXN, s.MaxPriceMXN,
			cellFloat(s.AvgPricePerM2), cellFloat(s.MedianPricePerM2),
		}
		if err := w.writeRow(neighborhoodsSheet, row); err != nil {
			return err
		}
	}
	return nil
}

func (w *XLSXWriter) writeRow(sheet string, values []any) error {
	row := w.nextRow[sheet] + 1
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("xlsx: cell name: %w", err)
		}
		if err := w.file.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("xlsx: set %s!%s: %w", sheet, cell, err)
		}
	}
	w.nextRow[sheet] = row
	return nil
}

// Close saves the workbook to disk.
func (w *XLSXWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("xlsx: create output dir: %w", err)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return fmt.Errorf("xlsx: save %q: %w", w.path, err)
	}
	return w.file.Close()
}

func toCells(header []string) []any {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return cells
}

func cellFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func cellInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
