package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"polpi-mx/models"
)

var rawHeader = []string{
	"source", "source_id", "url", "title", "raw_price", "currency", "raw_size",
	"raw_bedrooms", "raw_bathrooms", "location", "property_type_hint", "description", "scraped_at",
}

var listingHeader = []string{
	"id", "source", "url", "title", "price_mxn", "price_usd", "property_type",
	"bedrooms", "bathrooms", "size_m2", "lot_size_m2", "price_per_m2", "city", "colonia",
	"lat", "lng", "amenities", "data_quality_score", "scraped_date",
}

// csvFile is a header-initialised CSV file guarded by a mutex.
type csvFile struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// openCSV creates (or truncates) the CSV file at the given path and writes
// the header row. Intermediate directories are created automatically.
func openCSV(path string, header []string) (*csvFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &csvFile{file: f, writer: w}, nil
}

func (c *csvFile) writeRows(rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, row := range rows {
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvFile) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

// CSVWriter writes raw (uncleaned) listings to a CSV audit file.
// It is safe for concurrent use.
type CSVWriter struct {
	*csvFile
}

// NewCSVWriter creates the raw audit file at path.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := openCSV(path, rawHeader)
	if err != nil {
		return nil, err
	}
	return &CSVWriter{f}, nil
}

// WriteRaw appends every raw listing.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing) error {
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{
			l.Source,
			l.SourceID,
			l.URL,
			l.Title,
			l.RawPrice,
			l.Currency,
			l.RawSize,
			l.RawBedrooms,
			l.RawBathrooms,
			l.Location,
			l.PropertyTypeHint,
			l.Description,
			l.ScrapedAt.Format(time.RFC3339),
		})
	}
	return c.writeRows(rows)
}

// ListingCSVWriter exports clean listings.
type ListingCSVWriter struct {
	*csvFile
}

// NewListingCSVWriter creates the export file at path.
func NewListingCSVWriter(path string) (*ListingCSVWriter, error) {
	f, err := openCSV(path, listingHeader)
	if err != nil {
		return nil, err
	}
	return &ListingCSVWriter{f}, nil
}

// Write appends the listings.
func (c *ListingCSVWriter) Write(listings []*models.Listing) error {
	rows := make([][]string, 0, len(listings))
	for _, l := range listings {
		rows = append(rows, []string{
			l.ID,
			l.Source,
			l.URL,
			l.Title,
			formatFloat(l.PriceMXN),
			formatFloat(l.PriceUSD),
			l.PropertyType,
			formatInt(l.Bedrooms),
			formatInt(l.Bathrooms),
			formatFloat(l.SizeM2),
			formatFloat(l.LotSizeM2),
			formatFloat(l.PricePerM2),
			l.City,
			l.Colonia,
			formatFloat(l.Lat),
			formatFloat(l.Lng),
			strings.Join(l.Amenities, ";"),
			strconv.FormatFloat(l.DataQualityScore, 'f', 2, 64),
			l.ScrapedDate,
		})
	}
	return c.writeRows(rows)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
