package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/scraper/portals"
	"polpi-mx/storage"
	"polpi-mx/utils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runApp(t, &app{logger: utils.NewNopLogger()}, args...)
}

func runApp(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seededDB(t *testing.T) (string, map[string]string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polpi.db")
	ctx := context.Background()
	store, err := storage.Open(ctx, path, storage.Options{}, utils.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	ids := make(map[string]string)
	for _, l := range []*models.Listing{
		{Source: "lamudi", SourceID: "L1", URL: "https://www.lamudi.com.mx/detalle/l1", Title: "Departamento en Roma Norte",
			PriceMXN: models.Float64(4_000_000), SizeM2: models.Float64(80),
			PropertyType: models.TypeDepartamento, City: "Ciudad de México", Colonia: "Roma Norte"},
		{Source: "inmuebles24", SourceID: "I1", URL: "https://www.inmuebles24.com/propiedades/i1.html", Title: "Casa en Coyoacán",
			PriceMXN: models.Float64(9_500_000), SizeM2: models.Float64(250),
			PropertyType: models.TypeCasa, City: "Ciudad de México", Colonia: "Coyoacán"},
	} {
		l.ScrapedDate = "2026-10-01T12:00:00Z"
		id, err := store.UpsertListing(ctx, l)
		require.NoError(t, err)
		ids[l.SourceID] = id
	}
	return path, ids
}

func TestZoningCommand(t *testing.T) {
	out, err := run(t, "zoning", "Roma", "Norte", "--lot", "200")
	require.NoError(t, err)
	assert.Contains(t, out, "HM4/20/M")
	assert.Contains(t, out, "Buildable area")
	assert.Contains(t, out, "160.0")
	assert.Contains(t, out, "640.0")
	assert.Contains(t, out, "seduvi.cdmx.gob.mx")

	_, err = run(t, "zoning")
	assert.Error(t, err, "colonia is required")
}

func TestStatsCommand(t *testing.T) {
	db, _ := seededDB(t)
	out, err := run(t, "stats", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Active listings")
	assert.Contains(t, out, "Source: lamudi")
	assert.Contains(t, out, "Ciudad de México")
}

func TestAnalyzeCommand(t *testing.T) {
	db, ids := seededDB(t)
	out, err := run(t, "analyze", ids["L1"], "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Deal score")
	assert.Contains(t, out, "$50,000", "price per m²")
	assert.Contains(t, out, "Rental yield")

	_, err = run(t, "analyze", "missing", "--db", db)
	assert.True(t, utils.IsKind(err, utils.ErrNotFound))

	out, err = run(t, "analyze", "--db", db, "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Trending listings")
}

type toServer struct{ target *url.URL }

func (ts toServer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme, r.URL.Host = ts.target.Scheme, ts.target.Host
	r.Host = ts.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func TestAnalyzeURLCommand(t *testing.T) {
	db, ids := seededDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
<h1 class="Title">Departamento en venta en Roma Norte</h1>
<span class="PriceSection__Price">$3,400,000 MN</span>
<div class="KeyInformation__item"><span>Construcción</span><span>85 m²</span></div>
<div class="Location__address">Roma Norte, Cuauhtémoc, Ciudad de México</div>
</body></html>`)
	}))
	defer srv.Close()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	f := portals.NewDetailFetcher(scraper.Options{}, utils.NewNopLogger())
	f.Transport = toServer{target: target}
	a := &app{logger: utils.NewNopLogger(), fetcher: f}

	out, err := runApp(t, a, "analyze-url", "https://www.lamudi.com.mx/detalle/roma-85", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Listing · lamudi")
	assert.Contains(t, out, "Roma Norte")
	assert.Contains(t, out, "$40,000", "price per m²")
	assert.Contains(t, out, "Deal score")
	assert.Contains(t, out, ids["L1"], "stored Roma Norte listing is a comparable")

	_, err = runApp(t, a, "analyze-url", "https://www.zillow.com/homedetails/1", "--db", db)
	assert.True(t, utils.IsKind(err, utils.ErrInvalidInput))
}

func TestExportCommand(t *testing.T) {
	db, _ := seededDB(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "listings.csv")
	out, err := run(t, "export", "--db", db, "--format", "csv", "--out", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 2 listings")

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3, "header plus two listings")

	xlsxPath := filepath.Join(dir, "listings.xlsx")
	_, err = run(t, "export", "--db", db, "--format", "XLSX", "--out", xlsxPath)
	require.NoError(t, err)
	assert.FileExists(t, xlsxPath)

	_, err = run(t, "export", "--db", db, "--format", "pdf")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestThousands(t *testing.T) {
	assert.Equal(t, "4,000,000", thousands(4_000_000))
	assert.Equal(t, "999", thousands(999))
	assert.Equal(t, "-1,500", thousands(-1500))
	assert.Equal(t, "-", money(nil))
	assert.Equal(t, "$1,234", money(models.Float64(1234.4)))
}
