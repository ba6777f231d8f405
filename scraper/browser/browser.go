// Package browser scrapes JS-rendered listing sites through headless Chrome.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"polpi-mx/config"
	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/utils"
)

const (
	resultsTimeout = 90 * time.Second
	detailTimeout  = 60 * time.Second
)

// site is the per-source part of a browser scrape.
type site struct {
	pageURL       func(start string, n int) string
	parseResults  func(doc *goquery.Selection, base *url.URL) []*models.RawListing
	parseDetail   func(doc *goquery.Selection, base *url.URL, l *models.RawListing)
	resultsSettle time.Duration
	detailSettle  time.Duration
}

var sites = map[string]site{
	"remax": {
		pageURL:       queryPage("pagina"),
		parseResults:  parseRemaxResults,
		parseDetail:   parseRemaxDetail,
		resultsSettle: 6 * time.Second,
		detailSettle:  3 * time.Second,
	},
	"sothebys": {
		pageURL:       queryPage("page"),
		parseResults:  parseSothebysResults,
		parseDetail:   parseSothebysDetail,
		resultsSettle: 7 * time.Second,
		detailSettle:  4 * time.Second,
	},
}

// Supported reports whether name is a browser-driven source.
func Supported(name string) bool {
	_, ok := sites[name]
	return ok
}

// snapshot is what a page evaluation returns.
type snapshot struct {
	HTML    string `json:"html"`
	NextURL string `json:"next"`
}

const snapshotJS = `(function() {
	var next = document.querySelector('a[rel="next"]') ||
	           document.querySelector('a[aria-label="Next"]') ||
	           document.querySelector('a[aria-label="Siguiente"]') ||
	           document.querySelector('li.next a, a.next');
	return {
		html: document.documentElement.outerHTML,
		next: next && next.href ? next.href : ''
	};
})()`

// Scraper drives headless Chrome over one catalog source.
type Scraper struct {
	src    config.Source
	site   site
	opts   scraper.Options
	logger *utils.Logger
	pool   *utils.WorkerPool
	seen   *utils.URLSet
	retry  *utils.RetryConfig

	mu       sync.Mutex
	listings []*models.RawListing
}

// New creates a ready-to-use browser Scraper for src.
func New(src config.Source, opts scraper.Options, logger *utils.Logger) (*Scraper, error) {
	s, ok := sites[src.Name]
	if !ok {
		return nil, utils.NewError(utils.ErrInvalidInput, "no browser scraper for source %q", src.Name)
	}
	opts = opts.WithDefaults()
	return &Scraper{
		src:    src,
		site:   s,
		opts:   opts,
		logger: logger,
		pool:   utils.NewWorkerPool(opts.MaxConcurrency, int(opts.RateLimit/time.Millisecond)),
		seen:   utils.NewURLSet(),
		retry:  opts.Retry(logger),
	}, nil
}

// Name implements scraper.Source.
func (s *Scraper) Name() string { return s.src.Name }

// Scrape walks each start URL's result pages, then enriches every new
// listing from its detail page.
func (s *Scraper) Scrape(ctx context.Context) ([]*models.RawListing, error) {
	s.logger.Info("[%s] Starting scrape: target %d pages per start URL", s.src.Name, s.src.MaxPages)

	chromeBin := s.opts.ChromeBin
	if chromeBin == "" {
		chromeBin = FindChromeBinary()
	}
	s.logger.Info("[%s] Using browser binary: %s", s.src.Name, chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("lang", "es-MX"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(scraper.RandomUserAgent()),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...any) {}))
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, utils.Wrap(utils.ErrUpstream, s.src.Name+": start browser", err)
	}

	for _, start := range s.src.StartURLs {
		s.scrapeSearch(ctx, browserCtx, start)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("[%s] Scrape complete: total raw listings %d", s.src.Name, len(s.listings))
	if len(s.listings) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return s.listings, nil
}

func (s *Scraper) scrapeSearch(ctx, browserCtx context.Context, start string) {
	currentURL := s.site.pageURL(start, 1)
	for page := 1; page <= s.src.MaxPages; page++ {
		s.logger.Info("[%s] Scraping page %d: %s", s.src.Name, page, currentURL)

		snap, err := s.load(ctx, browserCtx, currentURL, resultsTimeout, s.site.resultsSettle, true)
		if err != nil {
			s.logger.Error("[%s] Page %d failed: %v", s.src.Name, page, err)
			return
		}
		pageListings, err := s.results(snap, currentURL)
		if err != nil {
			s.logger.Warn("[%s] Page %d: %v", s.src.Name, page, err)
			return
		}
		if len(pageListings) == 0 {
			s.logger.Warn("[%s] Page %d returned 0 new listings, stopping", s.src.Name, page)
			return
		}

		s.enrichListings(ctx, browserCtx, pageListings)

		s.mu.Lock()
		s.listings = append(s.listings, pageListings...)
		total := len(s.listings)
		s.mu.Unlock()
		s.logger.Info("[%s] Page %d done: collected %d listings so far", s.src.Name, page, total)

		if page >= s.src.MaxPages {
			return
		}
		currentURL = snap.NextURL
		if currentURL == "" {
			currentURL = s.site.pageURL(start, page+1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.opts.RateLimit):
		}
	}
}

// results parses a search page and keeps listings not seen before.
func (s *Scraper) results(snap *snapshot, pageURL string) ([]*models.RawListing, error) {
	doc, base, err := parseSnapshot(snap, pageURL)
	if err != nil {
		return nil, err
	}
	if scraper.IsBlocked(200, []byte(snap.HTML)) {
		return nil, utils.NewError(utils.ErrUpstream, "bot protection page at %s", pageURL)
	}

	var out []*models.RawListing
	now := time.Now().UTC()
	for _, l := range s.site.parseResults(doc, base) {
		if !s.seen.Add(l.URL) {
			s.logger.Debug("[%s] Skipping duplicate: %s", s.src.Name, l.URL)
			continue
		}
		l.Source = s.src.Name
		l.ScrapedAt = now
		if l.City == "" {
			l.City = s.src.City
		}
		if l.State == "" {
			l.State = s.src.State
		}
		if l.PropertyTypeHint == "" {
			l.PropertyTypeHint = s.src.PropertyType
		}
		out = append(out, l)
	}
	return out, nil
}

// enrichListings visits detail pages on the worker pool.
func (s *Scraper) enrichListings(ctx, browserCtx context.Context, listings []*models.RawListing) {
	for _, listing := range listings {
		l := listing
		s.pool.Submit(ctx, func(ctx context.Context) {
			snap, err := s.load(ctx, browserCtx, l.URL, detailTimeout, s.site.detailSettle, false)
			if err != nil {
				s.logger.Warn("[%s] Detail page failed for %s: %v", s.src.Name, l.URL, err)
				return
			}
			doc, base, err := parseSnapshot(snap, l.URL)
			if err != nil {
				s.logger.Warn("[%s] Detail page unparseable for %s: %v", s.src.Name, l.URL, err)
				return
			}
			s.site.parseDetail(doc, base, l)
			s.logger.Debug("[%s] Enriched: %s", s.src.Name, l.Title)
		})
	}
	s.pool.Wait()
}

// load opens url in a fresh tab, lets scripts settle and snapshots the DOM.
func (s *Scraper) load(ctx, browserCtx context.Context, pageURL string, timeout, settle time.Duration, scroll bool) (*snapshot, error) {
	var snap snapshot
	err := s.retry.DoContext(ctx, "load "+pageURL, func(context.Context) error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, timeout)
		defer cancelTimeout()

		actions := []chromedp.Action{
			chromedp.Navigate(pageURL),
			chromedp.Sleep(settle),
		}
		if scroll {
			actions = append(actions,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
				chromedp.Sleep(2*time.Second),
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(2*time.Second),
			)
		}
		actions = append(actions, chromedp.Evaluate(snapshotJS, &snap))

		if err := chromedp.Run(tabCtx, actions...); err != nil {
			return fmt.Errorf("chromedp: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, utils.Wrap(utils.ErrUpstream, s.src.Name, err)
	}
	return &snap, nil
}

func parseSnapshot(snap *snapshot, pageURL string) (*goquery.Selection, *url.URL, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, utils.Wrap(utils.ErrParse, "page url", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, nil, utils.Wrap(utils.ErrParse, "page html", err)
	}
	return doc.Selection, base, nil
}

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

// FindChromeBinary locates a Chrome or Chromium binary. CHROME_BIN wins.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
