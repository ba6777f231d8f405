package portals

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/models"
	"polpi-mx/scraper"
)

var (
	mlmIDRegexp      = regexp.MustCompile(`MLM-?(\d+)`)
	trailingIDRegexp = regexp.MustCompile(`/(\d+)/?$`)
	postingIDRegexp  = regexp.MustCompile(`-(\d{6,})\.html`)
	vivaPageRegexp   = regexp.MustCompile(`p\d+$`)
)

// mercadoLibrePage pages with the _Desde_ offset, 50 results per page.
func mercadoLibrePage(start string, n int) string {
	if n <= 1 {
		return start
	}
	return fmt.Sprintf("%s/_Desde_%d", strings.TrimSuffix(start, "/"), 1+50*(n-1))
}

// queryPage pages with a query parameter such as ?page=N.
func queryPage(param string) func(string, int) string {
	return func(start string, n int) string {
		if n <= 1 {
			return start
		}
		u, err := url.Parse(start)
		if err != nil {
			return start
		}
		q := u.Query()
		q.Set(param, strconv.Itoa(n))
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// vivanunciosPage swaps the trailing p<N> path segment suffix.
func vivanunciosPage(start string, n int) string {
	if n <= 1 {
		return start
	}
	u, err := url.Parse(start)
	if err != nil {
		return start
	}
	if vivaPageRegexp.MatchString(u.Path) {
		u.Path = vivaPageRegexp.ReplaceAllString(u.Path, "p"+strconv.Itoa(n))
	} else {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/p" + strconv.Itoa(n)
	}
	return u.String()
}

func parseMercadoLibre(doc *goquery.Selection, pageURL *url.URL) []*models.RawListing {
	var out []*models.RawListing
	doc.Find("li.ui-search-layout__item").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.poly-component__title").First()
		if link.Length() == 0 {
			link = card.Find("h3.poly-component__title-wrapper a").First()
		}
		href, _ := link.Attr("href")
		l := &models.RawListing{
			URL:      scraper.AbsoluteURL(pageURL, href),
			Title:    scraper.TextOf(link),
			Location: scraper.TextOf(card.Find("span.poly-component__location").First()),
		}
		if l.URL == "" {
			return
		}
		if m := mlmIDRegexp.FindStringSubmatch(l.URL); m != nil {
			l.SourceID = "MLM" + m[1]
		}

		price := card.Find(".poly-price__current").First()
		if price.Length() == 0 {
			price = card
		}
		symbol := scraper.TextOf(price.Find("span.andes-money-amount__currency-symbol").First())
		fraction := scraper.TextOf(price.Find("span.andes-money-amount__fraction").First())
		if fraction != "" {
			l.RawPrice = strings.TrimSpace(symbol + " " + fraction)
			l.Currency = currencyOf(symbol)
		}

		var features []string
		card.Find("ul.poly-attributes_list li, ul.poly-attributes-list li").Each(func(_ int, li *goquery.Selection) {
			features = append(features, scraper.TextOf(li))
		})
		applyFeatures(l, features)

		if img := card.Find("img.poly-component__picture").First(); img.Length() > 0 {
			if src := scraper.ImageOf(img); src != "" {
				l.Images = []string{src}
			}
		}
		out = append(out, l)
	})
	return out
}

// parseLamudi prefers the JSON-LD result list and falls back to cards.
func parseLamudi(doc *goquery.Selection, pageURL *url.URL) []*models.RawListing {
	if found := scraper.ParseJSONLD(doc); len(found) > 0 {
		for _, l := range found {
			l.URL = scraper.AbsoluteURL(pageURL, l.URL)
			if l.SourceID == "" {
				l.SourceID = lastPathSegment(l.URL)
			}
		}
		return found
	}

	var out []*models.RawListing
	doc.Find("div.listings__cards div.snippet, div[class*=ListingCell], article").Each(func(_ int, card *goquery.Selection) {
		if l := parseCard(card, pageURL); l != nil {
			l.SourceID = lastPathSegment(l.URL)
			out = append(out, l)
		}
	})
	return out
}

func parseInmuebles24(doc *goquery.Selection, pageURL *url.URL) []*models.RawListing {
	cards := doc.Find("div[data-posting-id]")
	if cards.Length() == 0 {
		cards = doc.Find("div.postingCard, [class*=posting-card], article")
	}

	var out []*models.RawListing
	cards.Each(func(_ int, card *goquery.Selection) {
		l := parseCard(card, pageURL)
		if l == nil {
			if href, ok := card.Attr("data-to-posting"); ok {
				l = &models.RawListing{URL: scraper.AbsoluteURL(pageURL, href), Title: scraper.FirstText(card, "h2", "h3")}
			}
		}
		if l == nil || l.URL == "" {
			return
		}
		if id, ok := card.Attr("data-posting-id"); ok && id != "" {
			l.SourceID = id
		} else if m := postingIDRegexp.FindStringSubmatch(l.URL); m != nil {
			l.SourceID = m[1]
		}
		out = append(out, l)
	})
	return out
}

// parseVivanuncios prefers JSON-LD and falls back to the result tiles.
func parseVivanuncios(doc *goquery.Selection, pageURL *url.URL) []*models.RawListing {
	found := scraper.ParseJSONLD(doc)
	if len(found) == 0 {
		cards := doc.Find("div.tileV1")
		for _, sel := range []string{"li.result-item", "[data-ad-id]", "article"} {
			if cards.Length() > 0 {
				break
			}
			cards = doc.Find(sel)
		}
		cards.Each(func(_ int, card *goquery.Selection) {
			if l := parseCard(card, pageURL); l != nil {
				if id, ok := card.Attr("data-ad-id"); ok && id != "" {
					l.SourceID = id
				}
				found = append(found, l)
			}
		})
	}

	for _, l := range found {
		l.URL = scraper.AbsoluteURL(pageURL, l.URL)
		if l.SourceID == "" {
			if m := trailingIDRegexp.FindStringSubmatch(l.URL); m != nil {
				l.SourceID = m[1]
			}
		}
	}
	return found
}

// parseCard reads a generic result card: the first titled link, then
// price, location, features, description and image by class substring.
func parseCard(card *goquery.Selection, pageURL *url.URL) *models.RawListing {
	link := card.Find("a[class*=title], a[class*=link]").First()
	if link.Length() == 0 {
		link = card.Find("a[href]").First()
	}
	href, _ := link.Attr("href")
	target := scraper.AbsoluteURL(pageURL, href)
	if target == "" {
		return nil
	}

	l := &models.RawListing{
		URL:         target,
		Title:       scraper.FirstText(card, "h2", "h3", "[class*=title]"),
		RawPrice:    scraper.FirstText(card, "[class*=price]", "[class*=Price]"),
		Location:    scraper.FirstText(card, "[class*=location]", "[class*=address]", "[class*=place]"),
		Description: scraper.FirstText(card, "[class*=description]", "[class*=desc]"),
	}
	if l.Title == "" {
		l.Title = scraper.TextOf(link)
	}
	l.Currency = currencyOf(l.RawPrice)

	var features []string
	card.Find("[class*=feature] li, [class*=feature] span, [class*=attribute]").Each(func(_ int, f *goquery.Selection) {
		features = append(features, scraper.TextOf(f))
	})
	if len(features) == 0 {
		card.Find("[class*=feature]").Each(func(_ int, f *goquery.Selection) {
			features = append(features, scraper.TextOf(f))
		})
	}
	applyFeatures(l, features)

	if img := card.Find("img").First(); img.Length() > 0 {
		if src := scraper.ImageOf(img); src != "" {
			l.Images = []string{scraper.AbsoluteURL(pageURL, src)}
		}
	}
	return l
}

// applyFeatures sorts short attribute strings ("3 recámaras", "120 m²
// construidos") into the raw fields they describe. First match wins.
func applyFeatures(l *models.RawListing, features []string) {
	for _, f := range features {
		lower := strings.ToLower(f)
		switch {
		case f == "":
		case strings.Contains(lower, "rec") || strings.Contains(lower, "habitaci") || strings.Contains(lower, "dormitorio"):
			setIfEmpty(&l.RawBedrooms, f)
		case strings.Contains(lower, "baño") || strings.Contains(lower, "bano"):
			setIfEmpty(&l.RawBathrooms, f)
		case strings.Contains(lower, "estac") || strings.Contains(lower, "cajon") || strings.Contains(lower, "cajón") || strings.Contains(lower, "parking"):
			setIfEmpty(&l.RawParking, f)
		case strings.Contains(lower, "m²") || strings.Contains(lower, "m2"):
			if strings.Contains(lower, "terreno") || strings.Contains(lower, "total") {
				setIfEmpty(&l.RawLotSize, f)
			} else {
				setIfEmpty(&l.RawSize, f)
			}
		}
	}
	if l.RawSize == "" && l.RawLotSize != "" {
		l.RawSize = l.RawLotSize
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func currencyOf(text string) string {
	upper := strings.ToUpper(text)
	if strings.Contains(upper, "US") || strings.Contains(upper, "DLL") {
		return "USD"
	}
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return "MXN"
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segs[len(segs)-1]
}
