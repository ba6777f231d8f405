// Package sitegen bundles the web frontend into a single self-contained
// index.html for static hosting, with a snapshot of listings and stats baked in.
package sitegen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"polpi-mx/models"
	"polpi-mx/utils"
)

const (
	generatedBanner = "<!-- Auto-generated self-contained file for GitHub Pages - DO NOT EDIT DIRECTLY -->\n"

	// DefaultListingLimit caps the listings snapshot.
	DefaultListingLimit = 500
)

// DataSource provides the snapshot embedded in the page.
type DataSource interface {
	ActiveListings(ctx context.Context, filters models.ListingFilters, limit int) ([]*models.Listing, error)
	Stats(ctx context.Context) (*models.PlatformStats, error)
}

// Builder turns StaticDir/index.html into DocsDir/index.html.
type Builder struct {
	StaticDir    string
	DocsDir      string
	ListingLimit int

	store  DataSource
	logger *utils.Logger
}

// NewBuilder returns a Builder with the default listing limit.
func NewBuilder(staticDir, docsDir string, store DataSource, logger *utils.Logger) *Builder {
	return &Builder{
		StaticDir:    staticDir,
		DocsDir:      docsDir,
		ListingLimit: DefaultListingLimit,
		store:        store,
		logger:       logger,
	}
}

// Build writes the bundled page and the JSON data files and returns the
// size in bytes of the generated index.html.
func (b *Builder) Build(ctx context.Context) (int64, error) {
	src := filepath.Join(b.StaticDir, "index.html")
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	doc, err := goquery.NewDocumentFromReader(f)
	f.Close()
	if err != nil {
		return 0, utils.Wrap(utils.ErrParse, "parse index.html", err)
	}

	styles := b.inlineStyles(doc)
	scripts := b.inlineScripts(doc)
	b.logger.Info("[sitegen] Inlined %d stylesheets and %d scripts", styles, scripts)

	listings, err := b.store.ActiveListings(ctx, models.ListingFilters{}, b.ListingLimit)
	if err != nil {
		return 0, fmt.Errorf("load listings: %w", err)
	}
	if listings == nil {
		listings = []*models.Listing{}
	}
	stats, err := b.store.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stats: %w", err)
	}

	if err := b.writeData(listings, stats); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(struct {
		Listings []*models.Listing     `json:"listings"`
		Stats    *models.PlatformStats `json:"stats"`
	}{listings, stats})
	if err != nil {
		return 0, fmt.Errorf("encode static data: %w", err)
	}
	// json.Marshal escapes '<', so listing text cannot close the script early.
	doc.Find("body").AppendHtml("<script>window.POLPI_STATIC = " + string(payload) + ";</script>\n")

	html, err := doc.Html()
	if err != nil {
		return 0, fmt.Errorf("render html: %w", err)
	}
	out := generatedBanner + html

	if err := os.MkdirAll(b.DocsDir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", b.DocsDir, err)
	}
	dst := filepath.Join(b.DocsDir, "index.html")
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}

	b.logger.Info("[sitegen] Wrote %s (%d bytes, %d listings)", dst, len(out), len(listings))
	return int64(len(out)), nil
}

func (b *Builder) inlineStyles(doc *goquery.Document) int {
	n := 0
	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		body, ok := b.readAsset(href, "css/")
		if !ok {
			return
		}
		s.ReplaceWithHtml("<style>\n" + body + "\n</style>")
		n++
	})
	return n
}

func (b *Builder) inlineScripts(doc *goquery.Document) int {
	n := 0
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		body, ok := b.readAsset(src, "js/")
		if !ok {
			return
		}
		s.ReplaceWithHtml("<script>\n" + body + "\n</script>")
		n++
	})
	return n
}

// readAsset loads a relative asset under prefix. Anything else, including
// files that do not exist, is reported as not inlinable.
func (b *Builder) readAsset(ref, prefix string) (string, bool) {
	ref = strings.TrimPrefix(ref, "./")
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	clean := path.Clean(ref)
	if !strings.HasPrefix(clean, prefix) || strings.Contains(clean, "..") {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(b.StaticDir, filepath.FromSlash(clean)))
	if err != nil {
		b.logger.Warn("[sitegen] Leaving %s as a reference: %v", ref, err)
		return "", false
	}
	return string(data), true
}

func (b *Builder) writeData(listings []*models.Listing, stats *models.PlatformStats) error {
	dir := filepath.Join(b.DocsDir, "js")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	files := map[string]any{
		"data-listings.json": listings,
		"data-stats.json":    stats,
	}
	for name, v := range files {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
