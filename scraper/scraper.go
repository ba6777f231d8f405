// Package scraper holds what every listing source shares: the Source
// contract, request headers, URL and text helpers, block-page detection and
// the schema.org JSON-LD extractor.
package scraper

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/config"
	"polpi-mx/models"
	"polpi-mx/utils"
)

// Source is one listing site.
type Source interface {
	Name() string
	Scrape(ctx context.Context) ([]*models.RawListing, error)
}

// Options are the crawl limits shared by every source.
type Options struct {
	MaxConcurrency int
	RateLimit      time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	ChromeBin      string
}

// OptionsFromConfig maps the scrape settings of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxConcurrency: cfg.MaxConcurrency,
		RateLimit:      time.Duration(cfg.RateLimitMs) * time.Millisecond,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     2 * time.Second,
		RequestTimeout: 30 * time.Second,
		ChromeBin:      cfg.ChromeBin,
	}
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = 1
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

// Retry builds the shared backoff policy for a source.
func (o Options) Retry(logger *utils.Logger) *utils.RetryConfig {
	return &utils.RetryConfig{
		MaxAttempts: o.MaxRetries,
		BaseDelay:   o.RetryDelay,
		MaxDelay:    30 * time.Second,
		Logger:      logger,
	}
}

var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// RandomUserAgent picks a desktop browser user agent.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// DefaultHeaders are sent with every portal request.
func DefaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "es-MX,es;q=0.9,en;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	return h
}

// AbsoluteURL resolves href against base. Empty and javascript: links
// resolve to "".
func AbsoluteURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "javascript:") || href == "#" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// TextOf returns the selection's text with whitespace collapsed.
func TextOf(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// FirstText returns the collapsed text of the first selector that matches
// something non-empty inside sel.
func FirstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if t := TextOf(sel.Find(s).First()); t != "" {
			return t
		}
	}
	return ""
}

// ImageOf returns the best source attribute of an <img>.
func ImageOf(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "src", "data-lazy"} {
		if v, ok := img.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

var blockedTitles = []string{"captcha", "access denied", "just a moment", "attention required"}

var blockedMarkers = []string{"cf-challenge", "cf_chl_opt", "challenge-platform", "px-captcha", "g-recaptcha"}

// IsBlocked reports whether a response is a bot wall rather than content.
func IsBlocked(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return false
	}
	title := strings.ToLower(TextOf(doc.Find("title").First()))
	for _, m := range blockedTitles {
		if strings.Contains(title, m) {
			return true
		}
	}

	// challenge pages are tiny; real result pages may embed recaptcha forms
	if len(body) > 64*1024 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, m := range blockedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
