package portals

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/utils"
)

// detailHosts maps listing domains to source names. Subdomains match.
var detailHosts = []struct{ domain, source string }{
	{"lamudi.com.mx", "lamudi"},
	{"mercadolibre.com.mx", "mercadolibre"},
	{"inmuebles24.com", "inmuebles24"},
	{"vivanuncios.com.mx", "vivanuncios"},
}

// detailPage holds the selectors of a single-listing page.
type detailPage struct {
	title, price, location, description string
	// features match one element per attribute, such as a label/value row
	features string
}

var detailPages = map[string]detailPage{
	"lamudi": {
		title:       "h1.Title, h1",
		price:       "span.PriceSection__Price, [class*=Price]",
		location:    "div.Location__address, [class*=location]",
		description: "div.Description__content, [class*=description]",
		features:    "div.KeyInformation__item, [class*=KeyInformation] li",
	},
	"mercadolibre": {
		title:       "h1.ui-pdp-title",
		price:       ".ui-pdp-price__second-line, span.andes-money-amount__fraction",
		location:    ".ui-vip-location__subtitle p, .ui-pdp-media__title",
		description: "p.ui-pdp-description__content",
		features:    "tr.andes-table__row",
	},
	"inmuebles24": {
		title:       "h1[class*=title], h1",
		price:       "span[class*=price-tag], [class*=price]",
		location:    "h2[class*=location], [class*=location]",
		description: "div[class*=description], section[class*=description]",
		features:    "li[class*=feature], li[class*=icon-feature]",
	},
	"vivanuncios": {
		title:       "h1",
		price:       "[class*=price]",
		location:    "[class*=location], [class*=address]",
		description: "[class*=description]",
		features:    "[class*=attribute], [class*=feature] li",
	},
}

var (
	latLngRegexp   = regexp.MustCompile(`(?i)\blat["'\s:=]+(-?\d+\.\d+).*?\b(?:lng|lon)["'\s:=]+(-?\d+\.\d+)`)
	latitudeRegexp = regexp.MustCompile(`(?i)latitude["'\s:=]+(-?\d+\.\d+).*?longitude["'\s:=]+(-?\d+\.\d+)`)
	pairRegexp     = regexp.MustCompile(`\[\s*(-?\d+\.\d+)\s*,\s*(-?\d+\.\d+)\s*\]`)
)

const maxDescription = 500

// SourceForURL returns the source name of a supported listing URL.
func SourceForURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", utils.NewError(utils.ErrInvalidInput, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", utils.NewError(utils.ErrInvalidInput, "unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range detailHosts {
		if host == h.domain || strings.HasSuffix(host, "."+h.domain) {
			return h.source, nil
		}
	}
	return "", utils.NewError(utils.ErrInvalidInput,
		"unsupported site %s (supported: Lamudi, MercadoLibre, Inmuebles24, Vivanuncios)", host)
}

// ParseDetail reads one listing page. JSON-LD is preferred; the page
// selectors of source fill what it leaves empty. Returns nil when the page
// carries neither a title nor a price.
func ParseDetail(source string, doc *goquery.Selection, pageURL *url.URL) *models.RawListing {
	l := &models.RawListing{}
	if found := scraper.ParseJSONLD(doc); len(found) > 0 {
		l = found[0]
	}

	if p, ok := detailPages[source]; ok {
		setIfEmpty(&l.Title, scraper.TextOf(doc.Find(p.title).First()))
		if l.RawPrice == "" {
			l.RawPrice = scraper.TextOf(doc.Find(p.price).First())
			l.Currency = currencyOf(l.RawPrice)
		}
		setIfEmpty(&l.Location, scraper.TextOf(doc.Find(p.location).First()))
		setIfEmpty(&l.Description, truncateRunes(scraper.TextOf(doc.Find(p.description).First()), maxDescription))

		var features []string
		doc.Find(p.features).Each(func(_ int, f *goquery.Selection) {
			features = append(features, featureText(f))
		})
		applyFeatures(l, features)
	}
	if l.Title == "" && l.RawPrice == "" {
		return nil
	}

	if l.Lat == nil || l.Lng == nil {
		l.Lat, l.Lng = coordinatesFromScripts(doc)
	}
	if len(l.Images) == 0 {
		if img, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok && img != "" {
			l.Images = []string{scraper.AbsoluteURL(pageURL, img)}
		}
	}

	l.Source = source
	l.URL = pageURL.String()
	l.SourceID = detailID(source, l.URL)
	return l
}

// featureText joins a label/value row with a space so "Recámaras" and "3"
// do not run together.
func featureText(f *goquery.Selection) string {
	children := f.Children()
	if children.Length() < 2 {
		return scraper.TextOf(f)
	}
	parts := make([]string, 0, children.Length())
	children.Each(func(_ int, c *goquery.Selection) {
		if t := scraper.TextOf(c); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

// coordinatesFromScripts looks for a lat/lng pair in inline scripts. Bare
// [lat, lng] arrays only count inside Mexico.
func coordinatesFromScripts(doc *goquery.Selection) (lat, lng *float64) {
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		for _, re := range []*regexp.Regexp{latLngRegexp, latitudeRegexp, pairRegexp} {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			la, err1 := strconv.ParseFloat(m[1], 64)
			ln, err2 := strconv.ParseFloat(m[2], 64)
			if err1 != nil || err2 != nil || la < -90 || la > 90 || ln < -180 || ln > 180 {
				continue
			}
			if re == pairRegexp && !inMexico(la, ln) {
				continue
			}
			lat, lng = models.Float64(la), models.Float64(ln)
			return false
		}
		return true
	})
	return lat, lng
}

func inMexico(lat, lng float64) bool {
	return lat > 14 && lat < 33 && lng > -118.5 && lng < -86.5
}

func detailID(source, raw string) string {
	switch source {
	case "mercadolibre":
		if m := mlmIDRegexp.FindStringSubmatch(raw); m != nil {
			return "MLM" + m[1]
		}
	case "inmuebles24":
		if m := postingIDRegexp.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	case "vivanuncios":
		if m := trailingIDRegexp.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return lastPathSegment(raw)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// DetailFetcher downloads single listing pages with colly.
type DetailFetcher struct {
	opts   scraper.Options
	logger *utils.Logger

	// Transport replaces the HTTP transport when set.
	Transport http.RoundTripper
}

// NewDetailFetcher creates a DetailFetcher.
func NewDetailFetcher(opts scraper.Options, logger *utils.Logger) *DetailFetcher {
	return &DetailFetcher{opts: opts.WithDefaults(), logger: logger}
}

// Fetch downloads rawURL and parses it with the parser of its site.
// Unsupported sites are invalid_input, network failures and bot walls are
// upstream errors, and pages without listing data are parse errors.
func (f *DetailFetcher) Fetch(ctx context.Context, rawURL string) (*models.RawListing, error) {
	rawURL = strings.TrimSpace(rawURL)
	source, err := SourceForURL(rawURL)
	if err != nil {
		return nil, err
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(scraper.RandomUserAgent()),
	)
	c.SetRequestTimeout(f.opts.RequestTimeout)
	if f.Transport != nil {
		c.WithTransport(f.Transport)
	}

	var (
		found    *models.RawListing
		blocked  bool
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		for k, v := range scraper.DefaultHeaders() {
			r.Headers.Set(k, v[0])
		}
		f.logger.Debug("[%s] GET %s", source, r.URL)
	})
	c.OnResponse(func(r *colly.Response) {
		blocked = scraper.IsBlocked(r.StatusCode, r.Body)
	})
	c.OnHTML("html", func(e *colly.HTMLElement) {
		if !blocked {
			found = ParseDetail(source, e.DOM, e.Request.URL)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if scraper.IsBlocked(r.StatusCode, r.Body) {
			blocked = true
			return
		}
		fetchErr = err
	})

	start := time.Now()
	if err := c.Visit(rawURL); err != nil && fetchErr == nil && !blocked {
		fetchErr = err
	}

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case blocked:
		return nil, utils.NewError(utils.ErrUpstream, "%s: blocked by bot protection", source)
	case fetchErr != nil:
		return nil, utils.Wrap(utils.ErrUpstream, "fetch "+rawURL, fetchErr)
	case found == nil:
		return nil, utils.NewError(utils.ErrParse, "no listing data at %s", rawURL)
	}

	found.ScrapedAt = time.Now().UTC()
	f.logger.Info("[%s] Read listing %s in %v", source, found.SourceID, time.Since(start).Round(time.Millisecond))
	return found, nil
}
