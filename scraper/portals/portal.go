// Package portals scrapes the listing sites that serve server-rendered HTML.
// Each site contributes a page-URL builder and a document parser; crawling,
// paging, retries and block detection are shared.
package portals

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"polpi-mx/config"
	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/services"
	"polpi-mx/utils"
)

const (
	ctxPage    = "polpi_page"
	ctxStart   = "polpi_start"
	ctxRetries = "polpi_retries"
	ctxBlocked = "polpi_blocked"
)

// site is the per-portal part of a scrape.
type site struct {
	// pageURL returns the URL of page n (1-based) of a search.
	pageURL func(start string, n int) string
	// parse extracts the listings on one results page.
	parse func(doc *goquery.Selection, pageURL *url.URL) []*models.RawListing
}

var sites = map[string]site{
	"mercadolibre": {pageURL: mercadoLibrePage, parse: parseMercadoLibre},
	"lamudi":       {pageURL: queryPage("page"), parse: parseLamudi},
	"inmuebles24":  {pageURL: queryPage("pagina"), parse: parseInmuebles24},
	"vivanuncios":  {pageURL: vivanunciosPage, parse: parseVivanuncios},
}

// Supported reports whether name is a portal this package can scrape.
func Supported(name string) bool {
	_, ok := sites[name]
	return ok
}

// Portal crawls one catalog source with colly.
type Portal struct {
	src    config.Source
	site   site
	opts   scraper.Options
	logger *utils.Logger
	retry  *utils.RetryConfig
	seen   *utils.URLSet

	mu       sync.Mutex
	listings []*models.RawListing
	errs     []error
	blocked  int
}

// New builds the scraper for src. It fails for sources this package has no
// parser for.
func New(src config.Source, opts scraper.Options, logger *utils.Logger) (*Portal, error) {
	s, ok := sites[src.Name]
	if !ok {
		return nil, utils.NewError(utils.ErrInvalidInput, "no portal parser for source %q", src.Name)
	}
	opts = opts.WithDefaults()
	return &Portal{
		src:    src,
		site:   s,
		opts:   opts,
		logger: logger,
		retry:  opts.Retry(logger),
		seen:   utils.NewURLSet(),
	}, nil
}

// Name implements scraper.Source.
func (p *Portal) Name() string { return p.src.Name }

// Scrape crawls every start URL page by page until a page yields no new
// listings or MaxPages is reached. Start URLs are crawled in parallel.
func (p *Portal) Scrape(ctx context.Context) ([]*models.RawListing, error) {
	p.logger.Info("[%s] Starting scrape: %d start URLs, up to %d pages each",
		p.src.Name, len(p.src.StartURLs), p.src.MaxPages)

	c := p.newCollector(ctx)

	for _, start := range p.src.StartURLs {
		if err := p.visit(c, start, 1); err != nil {
			p.recordErr(fmt.Errorf("visit %s: %w", start, err))
		}
	}
	c.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("[%s] Scrape complete: %d raw listings, %d errors, %d blocked pages",
		p.src.Name, len(p.listings), len(p.errs), p.blocked)

	if len(p.listings) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(p.errs) > 0 {
			return nil, utils.Wrap(utils.ErrUpstream, p.src.Name+": every page failed", p.errs[0])
		}
		if p.blocked > 0 {
			return nil, utils.NewError(utils.ErrUpstream, "%s: blocked by bot protection", p.src.Name)
		}
	}
	return p.listings, nil
}

func (p *Portal) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.Async(true),
		colly.UserAgent(scraper.RandomUserAgent()),
	)
	c.SetRequestTimeout(p.opts.RequestTimeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: p.opts.MaxConcurrency,
		Delay:       p.opts.RateLimit,
		RandomDelay: p.opts.RateLimit / 2,
	}); err != nil {
		p.logger.Warn("[%s] Limit rule rejected: %v", p.src.Name, err)
	}

	c.OnRequest(func(r *colly.Request) {
		for k, v := range scraper.DefaultHeaders() {
			r.Headers.Set(k, v[0])
		}
		r.Headers.Set("User-Agent", scraper.RandomUserAgent())
		p.logger.Debug("[%s] GET %s", p.src.Name, r.URL)
	})

	c.OnResponse(func(r *colly.Response) {
		if scraper.IsBlocked(r.StatusCode, r.Body) {
			r.Ctx.Put(ctxBlocked, true)
			p.mu.Lock()
			p.blocked++
			p.mu.Unlock()
			p.logger.Warn("[%s] Bot protection page at %s", p.src.Name, r.Request.URL)
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		if blocked, _ := e.Request.Ctx.GetAny(ctxBlocked).(bool); blocked {
			return
		}
		page, _ := e.Request.Ctx.GetAny(ctxPage).(int)
		start := e.Request.Ctx.Get(ctxStart)

		found := p.site.parse(e.DOM, e.Request.URL)
		added := p.collect(found)
		p.logger.Info("[%s] Page %d of %s: %d listings, %d new",
			p.src.Name, page, start, len(found), added)

		if added == 0 || page >= p.src.MaxPages {
			return
		}
		if err := p.visit(c, start, page+1); err != nil {
			p.recordErr(fmt.Errorf("visit page %d: %w", page+1, err))
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		p.handleError(ctx, r, err)
	})

	return c
}

// visit queues page n of the search that begins at start.
func (p *Portal) visit(c *colly.Collector, start string, n int) error {
	cctx := colly.NewContext()
	cctx.Put(ctxStart, start)
	cctx.Put(ctxPage, n)
	return c.Request(http.MethodGet, p.site.pageURL(start, n), nil, cctx, nil)
}

// handleError retries transient failures with backoff, counting attempts in
// the request context. Bot walls and client errors are not retried.
func (p *Portal) handleError(ctx context.Context, r *colly.Response, err error) {
	target := r.Request.URL.String()
	if scraper.IsBlocked(r.StatusCode, r.Body) {
		p.mu.Lock()
		p.blocked++
		p.mu.Unlock()
		p.logger.Warn("[%s] Blocked (%d) at %s", p.src.Name, r.StatusCode, target)
		return
	}

	transient := r.StatusCode == 0 || r.StatusCode >= http.StatusInternalServerError
	attempt, _ := r.Request.Ctx.GetAny(ctxRetries).(int)
	attempt++
	if !transient || attempt >= p.opts.MaxRetries {
		p.logger.Error("[%s] %s failed after %d attempts: %v", p.src.Name, target, attempt, err)
		p.recordErr(fmt.Errorf("%s: %w", target, err))
		return
	}

	wait := p.retry.Backoff(attempt)
	p.logger.Warn("[%s] %s failed (attempt %d/%d): %v, retrying in %v",
		p.src.Name, target, attempt, p.opts.MaxRetries, err, wait)
	r.Request.Ctx.Put(ctxRetries, attempt)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		p.recordErr(ctx.Err())
		return
	case <-timer.C:
	}
	if rerr := r.Request.Retry(); rerr != nil {
		p.recordErr(fmt.Errorf("retry %s: %w", target, rerr))
	}
}

// collect stamps and keeps listings whose URL has not been seen, returning
// how many were new.
func (p *Portal) collect(found []*models.RawListing) int {
	now := time.Now().UTC()
	added := 0

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range found {
		if l.URL == "" || !p.seen.Add(l.URL) {
			continue
		}
		l.Source = p.src.Name
		l.ScrapedAt = now
		if l.PropertyTypeHint == "" {
			l.PropertyTypeHint = p.src.PropertyType
		}
		if l.City == "" {
			if _, city, _ := services.SplitLocation(l.Location); city == "" {
				l.City = p.src.City
			}
		}
		if l.State == "" {
			l.State = p.src.State
		}
		p.listings = append(p.listings, l)
		added++
	}
	return added
}

func (p *Portal) recordErr(err error) {
	p.mu.Lock()
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}
