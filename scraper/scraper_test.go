package scraper

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return d.Selection
}

const lamudiGraph = `<html><head>
<script type="application/ld+json">
[{"@context":"https://schema.org","@graph":[
  {"@type":"SearchResultsPage","mainEntity":[
    {"@type":"ItemList","itemListElement":[
      {"@type":"ListItem","position":1,"item":{
        "@type":"Apartment","name":"Departamento en Roma Norte",
        "url":"https://www.lamudi.com.mx/detalle/41032-73-abc",
        "numberOfBedrooms":2,"numberOfBathroomsTotal":"2",
        "floorSize":{"@type":"QuantitativeValue","value":85,"unitCode":"MTK"},
        "address":{"@type":"PostalAddress","addressLocality":"Roma Norte","addressRegion":"Ciudad de México"},
        "geo":{"latitude":"19.4195","longitude":-99.1627},
        "image":["https://img/1.jpg",{"@type":"ImageObject","contentUrl":"https://img/2.jpg"}]
      }},
      {"@type":"ListItem","position":2,"item":{
        "@type":"House","name":"Casa en Coyoacán","@id":"https://www.lamudi.com.mx/detalle/99",
        "floorSize":{"value":"2,000","unitCode":"FTK"}
      }}
    ]}
  ]}
]}]
</script>
<script type="application/ld+json">{ not json</script>
</head><body></body></html>`

func TestParseJSONLD_GraphItemList(t *testing.T) {
	listings := ParseJSONLD(doc(t, lamudiGraph))
	require.Len(t, listings, 2)

	a := listings[0]
	assert.Equal(t, "Departamento en Roma Norte", a.Title)
	assert.Equal(t, "https://www.lamudi.com.mx/detalle/41032-73-abc", a.URL)
	assert.Equal(t, "2", a.RawBedrooms)
	assert.Equal(t, "2", a.RawBathrooms)
	assert.Equal(t, "85 m2", a.RawSize)
	assert.Equal(t, "Roma Norte, Ciudad de México", a.Location)
	assert.Equal(t, "apartment", a.PropertyTypeHint)
	require.NotNil(t, a.Lat)
	require.NotNil(t, a.Lng)
	assert.InDelta(t, 19.4195, *a.Lat, 1e-9)
	assert.InDelta(t, -99.1627, *a.Lng, 1e-9)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, a.Images)

	b := listings[1]
	assert.Equal(t, "https://www.lamudi.com.mx/detalle/99", b.URL)
	assert.Equal(t, "2,000 sqft", b.RawSize)
}

func TestParseJSONLD_OfferWrapsProperty(t *testing.T) {
	html := `<script type="application/ld+json">
{"@type":"Offer","price":4500000,"priceCurrency":"mxn",
 "itemOffered":{"@type":["Product","SingleFamilyResidence"],"name":"Casa en Polanco","url":"https://x/1"}}
</script>
<script type="application/ld+json">
{"@type":"Product","name":"Depto","url":"https://x/2","offers":[{"@type":"Offer","price":"250000","priceCurrency":"USD"}]}
</script>`
	listings := ParseJSONLD(doc(t, html))
	require.Len(t, listings, 2)

	assert.Equal(t, "4500000", listings[0].RawPrice)
	assert.Equal(t, "MXN", listings[0].Currency)
	assert.Equal(t, "singlefamilyresidence", listings[0].PropertyTypeHint)

	assert.Equal(t, "250000", listings[1].RawPrice)
	assert.Equal(t, "USD", listings[1].Currency)
}

func TestParseJSONLD_IgnoresNonProperties(t *testing.T) {
	html := `<script type="application/ld+json">{"@type":"Organization","name":"Lamudi"}</script>
<script type="application/ld+json">{"@type":"BreadcrumbList","itemListElement":[{"@type":"ListItem","item":{"@id":"https://x","name":"Inicio"}}]}</script>`
	assert.Empty(t, ParseJSONLD(doc(t, html)))
}

func TestAbsoluteURL(t *testing.T) {
	base, _ := url.Parse("https://www.vivanuncios.com.mx/s-venta-inmuebles/distrito-federal/v1c1097l1008p1")

	assert.Equal(t, "https://www.vivanuncios.com.mx/a-venta/roma/123", AbsoluteURL(base, "/a-venta/roma/123"))
	assert.Equal(t, "https://other.mx/x", AbsoluteURL(base, "https://other.mx/x"))
	assert.Equal(t, "", AbsoluteURL(base, "javascript:void(0)"))
	assert.Equal(t, "", AbsoluteURL(base, "  "))
}

func TestTextOfCollapsesWhitespace(t *testing.T) {
	sel := doc(t, "<p>  $ 3,500,000 \n\t MXN </p>").Find("p")
	assert.Equal(t, "$ 3,500,000 MXN", TextOf(sel))
	assert.Equal(t, "x", FirstText(doc(t, "<div><p>x</p></div>").Find("div"), "span", "p"))
}

func TestIsBlocked(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"captcha title", 200, "<html><head><title>Captcha Interception</title></head></html>", true},
		{"cloudflare", 403, `<html><head><title>Just a moment...</title></head></html>`, true},
		{"challenge marker", 200, `<html><body><div id="cf-challenge-running"></div></body></html>`, true},
		{"rate limited", 429, "", true},
		{"results page", 200, "<html><head><title>Casas en venta</title></head><body><li>casa</li></body></html>", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsBlocked(tc.status, []byte(tc.body)))
		})
	}
}

func TestDefaultHeadersAreSpanish(t *testing.T) {
	h := DefaultHeaders()
	assert.True(t, strings.HasPrefix(h.Get("Accept-Language"), "es-MX"))
	assert.NotEmpty(t, RandomUserAgent())
	assert.IsType(t, http.Header{}, h)
}
