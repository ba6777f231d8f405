package portals

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polpi-mx/utils"
)

const lamudiDetailFixture = `<html><head>
<meta property="og:image" content="/img/roma-101.jpg">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"BreadcrumbList","itemListElement":[]}</script>
<script type="application/ld+json">{
  "@context": "https://schema.org", "@type": "Apartment",
  "name": "Departamento en venta en Roma Norte",
  "address": {"addressLocality": "Roma Norte", "addressRegion": "Ciudad de México"},
  "floorSize": {"@type": "QuantitativeValue", "value": 95, "unitCode": "MTK"},
  "numberOfRooms": 2,
  "geo": {"latitude": 19.4178, "longitude": -99.1622},
  "offers": {"@type": "Offer", "price": 4850000, "priceCurrency": "MXN"}
}</script></head>
<body><h1 class="Title">Departamento en venta en Roma Norte</h1>
<div class="KeyInformation__item"><span class="KeyInformation__item-label">Baños</span><span class="KeyInformation__item-value">2</span></div>
<div class="Description__content">Departamento remodelado con balcón y roof garden.</div>
</body></html>`

const mercadoLibreDetailFixture = `<html><head><title>Casa en venta</title></head><body>
<h1 class="ui-pdp-title">Casa En Venta En Coyoacán</h1>
<div class="ui-pdp-price__second-line"><span class="andes-money-amount__currency-symbol">$</span><span class="andes-money-amount__fraction">8,900,000</span></div>
<div class="ui-vip-location__subtitle"><p>Del Carmen, Coyoacán, Distrito Federal</p></div>
<table><tbody>
<tr class="andes-table__row"><th class="andes-table__header">Superficie construida</th><td class="andes-table__column">240 m²</td></tr>
<tr class="andes-table__row"><th class="andes-table__header">Superficie total</th><td class="andes-table__column">300 m²</td></tr>
<tr class="andes-table__row"><th class="andes-table__header">Recámaras</th><td class="andes-table__column">4</td></tr>
<tr class="andes-table__row"><th class="andes-table__header">Baños</th><td class="andes-table__column">3</td></tr>
</tbody></table>
<p class="ui-pdp-description__content">Amplia casa con jardín.</p>
<script>window.__MAP__ = {"lat": 19.3500, "lng": -99.1620, "zoom": 15};</script>
</body></html>`

func TestSourceForURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://www.lamudi.com.mx/detalle/41032-73-abc", "lamudi"},
		{"https://casa.mercadolibre.com.mx/MLM-1234567890-casa-_JM", "mercadolibre"},
		{"https://inmuebles.mercadolibre.com.mx/MLM-1", "mercadolibre"},
		{" https://www.inmuebles24.com/propiedades/depto-145678901.html ", "inmuebles24"},
		{"https://www.vivanuncios.com.mx/a-venta-inmuebles/roma/depto/1009876543", "vivanuncios"},
	}
	for _, tt := range tests {
		got, err := SourceForURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	for _, raw := range []string{"", "lamudi.com.mx/detalle/1", "ftp://www.lamudi.com.mx/x", "https://www.zillow.com/x", "https://notlamudi.com.mx/x"} {
		_, err := SourceForURL(raw)
		assert.True(t, utils.IsKind(err, utils.ErrInvalidInput), raw)
	}
}

func TestParseDetailLamudiJSONLD(t *testing.T) {
	page := mustURL(t, "https://www.lamudi.com.mx/detalle/41032-73-roma-101")
	l := ParseDetail("lamudi", parseFixture(t, lamudiDetailFixture), page)
	require.NotNil(t, l)

	assert.Equal(t, "lamudi", l.Source)
	assert.Equal(t, page.String(), l.URL)
	assert.Equal(t, "41032-73-roma-101", l.SourceID)
	assert.Equal(t, "Departamento en venta en Roma Norte", l.Title)
	assert.Equal(t, "4850000", l.RawPrice)
	assert.Equal(t, "MXN", l.Currency)
	assert.Equal(t, "95 m2", l.RawSize)
	assert.Equal(t, "2", l.RawBedrooms)
	assert.Equal(t, "Baños 2", l.RawBathrooms)
	assert.Equal(t, "Roma Norte, Ciudad de México", l.Location)
	assert.Equal(t, "Departamento remodelado con balcón y roof garden.", l.Description)
	require.NotNil(t, l.Lat)
	assert.InDelta(t, 19.4178, *l.Lat, 1e-9)
	assert.Equal(t, []string{"https://www.lamudi.com.mx/img/roma-101.jpg"}, l.Images)
}

func TestParseDetailMercadoLibreSelectors(t *testing.T) {
	page := mustURL(t, "https://casa.mercadolibre.com.mx/MLM-2209876543-casa-en-venta-en-coyoacan-_JM")
	l := ParseDetail("mercadolibre", parseFixture(t, mercadoLibreDetailFixture), page)
	require.NotNil(t, l)

	assert.Equal(t, "MLM2209876543", l.SourceID)
	assert.Equal(t, "Casa En Venta En Coyoacán", l.Title)
	assert.Equal(t, "$8,900,000", l.RawPrice)
	assert.Equal(t, "MXN", l.Currency)
	assert.Equal(t, "Superficie construida 240 m²", l.RawSize)
	assert.Equal(t, "Superficie total 300 m²", l.RawLotSize)
	assert.Equal(t, "Recámaras 4", l.RawBedrooms)
	assert.Equal(t, "Baños 3", l.RawBathrooms)
	assert.Equal(t, "Del Carmen, Coyoacán, Distrito Federal", l.Location)
	require.NotNil(t, l.Lat)
	require.NotNil(t, l.Lng)
	assert.InDelta(t, 19.35, *l.Lat, 1e-9)
	assert.InDelta(t, -99.162, *l.Lng, 1e-9)
}

func TestParseDetailEmptyPage(t *testing.T) {
	doc := parseFixture(t, `<html><body><p>Anuncio no disponible</p></body></html>`)
	assert.Nil(t, ParseDetail("lamudi", doc, mustURL(t, "https://www.lamudi.com.mx/detalle/x")))
}

func TestCoordinatesFromScripts(t *testing.T) {
	tests := []struct {
		script  string
		wantLat float64
		ok      bool
	}{
		{`var pos = {latitude: "20.6597", longitude: "-103.3496"};`, 20.6597, true},
		{`map.setCenter([19.4326, -99.1332]);`, 19.4326, true},
		{`chart.data([48.8566, 2.3522]);`, 0, false},
		{`var cfg = {lat: 91.5, lng: 10.0};`, 0, false},
	}
	for _, tt := range tests {
		doc := parseFixture(t, `<html><body><script>`+tt.script+`</script></body></html>`)
		lat, lng := coordinatesFromScripts(doc)
		if !tt.ok {
			assert.Nil(t, lat, tt.script)
			continue
		}
		require.NotNil(t, lat, tt.script)
		require.NotNil(t, lng, tt.script)
		assert.InDelta(t, tt.wantLat, *lat, 1e-9, tt.script)
	}
}

// rewriteTransport sends every request to target, keeping the path.
type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme, r.URL.Host = rt.target.Scheme, rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newDetailFetcher(t *testing.T, h http.HandlerFunc) *DetailFetcher {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	f := NewDetailFetcher(testOptions(), utils.NewNopLogger())
	f.Transport = rewriteTransport{target: mustURL(t, srv.URL)}
	return f
}

func TestDetailFetcherFetch(t *testing.T) {
	var path string
	f := newDetailFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.Contains(t, r.Header.Get("Accept-Language"), "es-MX")
		fmt.Fprint(w, mercadoLibreDetailFixture)
	})

	raw := "https://casa.mercadolibre.com.mx/MLM-2209876543-casa-_JM"
	l, err := f.Fetch(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "/MLM-2209876543-casa-_JM", path)
	assert.Equal(t, "mercadolibre", l.Source)
	assert.Equal(t, raw, l.URL)
	assert.False(t, l.ScrapedAt.IsZero())
}

func TestDetailFetcherErrors(t *testing.T) {
	f := newDetailFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			http.NotFound(w, r)
		case "/captcha":
			fmt.Fprint(w, `<html><head><title>Just a moment...</title></head><body></body></html>`)
		default:
			fmt.Fprint(w, `<html><body><p>Anuncio no disponible</p></body></html>`)
		}
	})
	ctx := context.Background()

	_, err := f.Fetch(ctx, "https://www.zillow.com/homedetails/1")
	assert.True(t, utils.IsKind(err, utils.ErrInvalidInput), "unsupported site: %v", err)

	_, err = f.Fetch(ctx, "https://www.lamudi.com.mx/gone")
	assert.True(t, utils.IsKind(err, utils.ErrUpstream), "404: %v", err)

	_, err = f.Fetch(ctx, "https://www.inmuebles24.com/captcha")
	assert.True(t, utils.IsKind(err, utils.ErrUpstream), "bot wall: %v", err)

	_, err = f.Fetch(ctx, "https://www.lamudi.com.mx/detalle/empty")
	assert.True(t, utils.IsKind(err, utils.ErrParse), "empty page: %v", err)
}
