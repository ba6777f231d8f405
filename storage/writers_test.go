package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"polpi-mx/models"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVWriter_WritesEveryRawRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw", "lamudi.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	var raw []*models.RawListing
	for i := 0; i < 25; i++ {
		raw = append(raw, &models.RawListing{
			Source:    "lamudi",
			URL:       fmt.Sprintf("https://www.lamudi.com.mx/detalle/%d", i),
			Title:     "Casa, con jardín",
			RawPrice:  "$ 3,500,000",
			Currency:  "MXN",
			Location:  "Coyoacán, CDMX",
			ScrapedAt: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		})
	}

	// concurrent writers share the file
	var wg sync.WaitGroup
	for _, chunk := range [][]*models.RawListing{raw[:10], raw[10:]} {
		wg.Add(1)
		go func(c []*models.RawListing) {
			defer wg.Done()
			assert.NoError(t, w.WriteRaw(c))
		}(chunk)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 26)
	assert.Equal(t, rawHeader, rows[0])
	assert.Equal(t, "Casa, con jardín", rows[1][3])
	assert.Equal(t, "2026-10-01T08:00:00Z", rows[1][12])
}

func TestListingCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	w, err := NewListingCSVWriter(path)
	require.NoError(t, err)

	l := newListing("lamudi", "https://l/1", 4_000_000, 80, "Roma Norte", models.TypeDepartamento)
	l.ID = "abc"
	l.Bedrooms = models.Int(2)
	l.PricePerM2 = models.Float64(50_000)
	l.Amenities = models.StringList{"gimnasio", "alberca"}
	require.NoError(t, w.Write([]*models.Listing{l}))
	require.NoError(t, w.Close())

	rows := readCSV(t, path)
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, "abc", row[0])
	assert.Equal(t, "4000000", row[4])
	assert.Equal(t, "2", row[7])
	assert.Equal(t, "", row[8])
	assert.Equal(t, "50000", row[11])
	assert.Equal(t, "gimnasio;alberca", row[16])
}

func TestXLSXWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "polpi.xlsx")
	w, err := NewXLSXWriter(path)
	require.NoError(t, err)

	l := newListing("lamudi", "https://l/1", 4_000_000, 80, "Roma Norte", models.TypeDepartamento)
	l.ID = "abc"
	require.NoError(t, w.Write([]*models.Listing{l}))
	require.NoError(t, w.WriteStats([]models.NeighborhoodStats{{
		City: cdmx, Colonia: "Roma Norte", ListingCount: 4, AvgPriceMXN: 2_500_000,
		AvgPricePerM2: models.Float64(25_000),
	}}))
	require.NoError(t, w.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{listingsSheet, neighborhoodsSheet}, f.GetSheetList())

	rows, err := f.GetRows(listingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "abc", rows[1][0])
	assert.Equal(t, "Roma Norte", rows[1][13])

	stats, err := f.GetRows(neighborhoodsSheet)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Roma Norte", stats[1][1])
	assert.Equal(t, "4", stats[1][3])
}
