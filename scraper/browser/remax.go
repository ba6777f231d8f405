package browser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/models"
	"polpi-mx/scraper"
)

// remax result cards link to /propiedades/<slug>/<id>; the search pages
// themselves end in /venta or /renta.
func isRemaxListing(u *url.URL) bool {
	if !strings.HasPrefix(u.Path, "/propiedades/") {
		return false
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 3 {
		return false
	}
	last := strings.ToLower(segs[len(segs)-1])
	return last != "venta" && last != "renta"
}

func parseRemaxResults(doc *goquery.Selection, base *url.URL) []*models.RawListing {
	var out []*models.RawListing
	seen := make(map[string]bool)

	doc.Find(`a[href*="/propiedades/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		abs := scraper.AbsoluteURL(base, href)
		u, err := url.Parse(abs)
		if abs == "" || err != nil || !isRemaxListing(u) || seen[abs] {
			return
		}
		seen[abs] = true

		card := a.Closest(`[class*="card"], article, li`)
		if card.Length() == 0 {
			card = a
		}
		l := &models.RawListing{
			URL:      abs,
			SourceID: lastSegment(u),
			Title:    scraper.FirstText(card, "h2", "h3", `[class*="title"]`),
			RawPrice: scraper.FirstText(card, `[class*="price"]`),
			Location: scraper.FirstText(card, `[class*="location"]`, `[class*="address"]`),
		}
		if l.Title == "" {
			l.Title = scraper.TextOf(a)
		}
		if img := card.Find("img").First(); img.Length() > 0 {
			if src := scraper.ImageOf(img); src != "" {
				l.Images = []string{scraper.AbsoluteURL(base, src)}
			}
		}
		out = append(out, l)
	})
	return out
}

// parseRemaxDetail fills l from a property page, keeping card values the
// page does not provide.
func parseRemaxDetail(doc *goquery.Selection, base *url.URL, l *models.RawListing) {
	setText(&l.Title, scraper.FirstText(doc, "h1.property-title", "h1"))
	setText(&l.RawPrice, scraper.FirstText(doc, ".property-price", ".price", `[class*="price"]`))
	setText(&l.Location, scraper.FirstText(doc, ".property-location", ".location", `[class*="location"]`))
	setText(&l.Description, scraper.FirstText(doc, ".property-description", ".description", `[class*="description"]`))
	setText(&l.AgentName, scraper.FirstText(doc, ".agent-name", ".agente", `[class*="agent"] [class*="name"]`))
	setText(&l.AgentPhone, scraper.FirstText(doc, ".agent-phone", `[class*="telefono"]`, `[class*="phone"]`))

	doc.Find(`.property-details li, .details-list li, [class*="detail"] li`).Each(func(_ int, li *goquery.Selection) {
		t := scraper.TextOf(li)
		lower := strings.ToLower(t)
		switch {
		case strings.Contains(lower, "rec"):
			setText(&l.RawBedrooms, t)
		case strings.Contains(lower, "baño"):
			setText(&l.RawBathrooms, t)
		case strings.Contains(lower, "estacionamiento"):
			setText(&l.RawParking, t)
		case strings.Contains(lower, "terreno") && strings.Contains(lower, "m"):
			setText(&l.RawLotSize, t)
		case strings.Contains(lower, "m²") || strings.Contains(lower, "m2"):
			setText(&l.RawSize, t)
		}
	})

	if strings.Contains(l.URL, "/renta") {
		l.RawData = map[string]any{"listing_type": "rental"}
	}

	mergeJSONLD(doc, base, l)
	collectImages(doc, base, l, "remax", 20)
}

func lastSegment(u *url.URL) string {
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segs[len(segs)-1]
}

// setText assigns v when the field is still empty.
func setText(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// mergeJSONLD fills gaps from the first structured-data property on the page.
func mergeJSONLD(doc *goquery.Selection, base *url.URL, l *models.RawListing) {
	found := scraper.ParseJSONLD(doc)
	if len(found) == 0 {
		return
	}
	ld := found[0]
	setText(&l.Title, ld.Title)
	setText(&l.Description, ld.Description)
	setText(&l.Location, ld.Location)
	setText(&l.RawSize, ld.RawSize)
	setText(&l.RawBedrooms, ld.RawBedrooms)
	setText(&l.RawBathrooms, ld.RawBathrooms)
	if l.RawPrice == "" {
		l.RawPrice, l.Currency = ld.RawPrice, ld.Currency
	}
	if l.Lat == nil && l.Lng == nil {
		l.Lat, l.Lng = ld.Lat, ld.Lng
	}
	for _, img := range ld.Images {
		l.Images = appendUnique(l.Images, scraper.AbsoluteURL(base, img))
	}
}

// collectImages adds gallery images whose URL mentions host, skipping icons.
func collectImages(doc *goquery.Selection, base *url.URL, l *models.RawListing, host string, limit int) {
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if len(l.Images) >= limit {
			return false
		}
		src := scraper.AbsoluteURL(base, scraper.ImageOf(img))
		lower := strings.ToLower(src)
		if src == "" || !strings.Contains(lower, host) {
			return true
		}
		for _, skip := range []string{"icon", "logo", "avatar", "thumb"} {
			if strings.Contains(lower, skip) {
				return true
			}
		}
		l.Images = appendUnique(l.Images, src)
		return true
	})
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, e := range list {
		if e == v {
			return list
		}
	}
	return append(list, v)
}
