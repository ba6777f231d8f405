package browser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/models"
	"polpi-mx/scraper"
)

var (
	sothebysBedsRegexp  = regexp.MustCompile(`(?i)(\d+)\s*(?:Bedrooms?|Beds?|Rec[aá]maras?)`)
	sothebysBathsRegexp = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:Bathrooms?|Baths?|Ba[ñn]os?)`)
	sothebysSqftRegexp  = regexp.MustCompile(`(?i)([\d,]+)\s*(?:sq\.?\s*ft\.?)`)
	sothebysM2Regexp    = regexp.MustCompile(`(?i)([\d,]+)\s*m[²2]`)
	sothebysPriceRegexp = regexp.MustCompile(`\$[\d,]+(?:\.\d+)?(?:\s*(?:USD|MXN))?`)
)

// parseSothebysResults returns one stub per Mexico City detail link; the
// results grid carries nothing else worth reading.
func parseSothebysResults(doc *goquery.Selection, base *url.URL) []*models.RawListing {
	var out []*models.RawListing
	seen := make(map[string]bool)
	doc.Find(`a[href*="/eng/sales/detail/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.Contains(strings.ToLower(href), "mexico-city") {
			return
		}
		abs := scraper.AbsoluteURL(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		out = append(out, &models.RawListing{URL: abs, SourceID: sothebysID(abs)})
	})
	return out
}

// sothebysID is the path segment following /detail/.
func sothebysID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, s := range segs {
		if s == "detail" && i+1 < len(segs) {
			return segs[i+1]
		}
	}
	return ""
}

func parseSothebysDetail(doc *goquery.Selection, base *url.URL, l *models.RawListing) {
	setText(&l.Title, scraper.TextOf(doc.Find("h1").First()))

	if amount, ok := doc.Find(`meta[property="og:price:amount"]`).Attr("content"); ok && amount != "" {
		l.RawPrice = amount
		l.Currency, _ = doc.Find(`meta[property="og:price:currency"]`).Attr("content")
		l.Currency = strings.ToUpper(strings.TrimSpace(l.Currency))
	}

	body := scraper.TextOf(doc.Find("body"))
	if l.RawPrice == "" {
		if m := sothebysPriceRegexp.FindString(body); m != "" {
			l.RawPrice = m
			if strings.Contains(m, "USD") {
				l.Currency = "USD"
			}
		}
	}
	if m := sothebysBedsRegexp.FindString(body); m != "" {
		setText(&l.RawBedrooms, m)
	}
	if m := sothebysBathsRegexp.FindString(body); m != "" {
		setText(&l.RawBathrooms, m)
	}
	if m := sothebysSqftRegexp.FindString(body); m != "" {
		setText(&l.RawSize, m)
	} else if m := sothebysM2Regexp.FindString(body); m != "" {
		setText(&l.RawSize, m)
	}

	setText(&l.Description, scraper.FirstText(doc, `[class*="description"]`, `[class*="remark"]`))
	if r := []rune(l.Description); len(r) > 1500 {
		l.Description = string(r[:1500])
	}
	if l.Colonia == "" {
		l.Colonia = colonyFromPath(l.URL)
	}

	mergeJSONLD(doc, base, l)
	collectImages(doc, base, l, "sothebys", 25)
}

var knownColonias = []string{"polanco", "lomas", "roma", "condesa", "chapultepec", "bosques", "santa-fe", "coyoacan", "san-angel"}

// colonyFromPath picks a well-known neighborhood out of the listing slug.
func colonyFromPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for _, part := range strings.Split(strings.ToLower(u.Path), "/") {
		for _, hood := range knownColonias {
			if strings.Contains(part, hood) {
				return strings.ReplaceAll(hood, "-", " ")
			}
		}
	}
	return ""
}
