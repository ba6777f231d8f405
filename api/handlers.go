package api

import (
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"polpi-mx/models"
	"polpi-mx/services"
	"polpi-mx/utils"
	"polpi-mx/zoning"
)

const (
	defaultTrendMonths   = 12
	maxTrendMonths       = 24
	defaultTrendingLimit = 10
	maxTrendingLimit     = 50
)

// Handler holds the HTTP handlers.
type Handler struct {
	store    Store
	intel    *services.Intelligence
	market   *services.Market
	analyzer *services.URLAnalyzer
	zoning   *zoning.Rules
	cfg      Config
	logger   *utils.Logger
	now      func() time.Time
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError maps an error kind to a status code. Storage and unknown
// failures are reported without their cause.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch utils.KindOf(err) {
	case utils.ErrNotFound:
		status, msg = http.StatusNotFound, messageOf(err)
	case utils.ErrInvalidInput:
		status, msg = http.StatusBadRequest, messageOf(err)
	case utils.ErrParse:
		status, msg = http.StatusUnprocessableEntity, messageOf(err)
	case utils.ErrUpstream:
		status, msg = http.StatusBadGateway, "upstream service unavailable"
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

func messageOf(err error) string {
	var e *utils.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func badRequest(c *gin.Context, format string, args ...any) {
	respondError(c, utils.NewError(utils.ErrInvalidInput, format, args...))
}

// Health reports liveness and database reachability.
func (h *Handler) Health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("[api] Health check: database unreachable: %v", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// ListListings returns one filtered, sorted page of active listings.
func (h *Handler) ListListings(c *gin.Context) {
	page, perPage, ok := h.pagination(c)
	if !ok {
		return
	}
	sort := c.DefaultQuery("sort_by", string(models.SortNewest))
	if !models.ValidSort(sort) {
		badRequest(c, "invalid sort_by %q", sort)
		return
	}
	filters, ok := parseFilters(c)
	if !ok {
		return
	}

	result, err := h.store.ListingsPaginated(c.Request.Context(), filters, page, perPage, models.SortOrder(sort))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetListing returns a listing with its deal analysis and counts the view.
func (h *Handler) GetListing(c *gin.Context) {
	id := c.Param("id")
	detail, _, err := h.intel.ListingDetail(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.IncrementViews(c.Request.Context(), id); err != nil {
		h.logger.Warn("[api] Could not count view of %s: %v", id, err)
	} else {
		detail.ViewsCount++
	}
	c.JSON(http.StatusOK, detail)
}

// GetAnalysis returns the full price analysis of a listing.
func (h *Handler) GetAnalysis(c *gin.Context) {
	analysis, err := h.intel.AnalyzeListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// GetInvestment returns rental yield and return projections.
func (h *Handler) GetInvestment(c *gin.Context) {
	inv, err := h.intel.InvestmentAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GetReport bundles detail, analysis and investment into one document.
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.market.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetPriceHistory lists the recorded prices of a listing, oldest first.
func (h *Handler) GetPriceHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.GetListing(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	history, err := h.store.PriceHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if history == nil {
		history = []models.PriceHistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"listing_id": id, "history": history})
}

// GetZoning estimates the land-use limits of a listing's colonia, with the
// buildable envelope when the lot size is known.
func (h *Handler) GetZoning(c *gin.Context) {
	if h.zoning == nil {
		respondError(c, utils.NewError(utils.ErrNotFound, "zoning rules not loaded"))
		return
	}
	l, err := h.store.GetListing(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if strings.TrimSpace(l.Colonia) == "" {
		badRequest(c, "listing %s has no colonia", l.ID)
		return
	}
	info, err := h.zoning.Lookup(l.Colonia)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"listing_id":      l.ID,
		"zoning":          info,
		"certificate_url": h.zoning.CertificateURL(),
	}
	if l.LotSizeM2 != nil && *l.LotSizeM2 > 0 {
		if b, err := zoning.BuildableArea(*l.LotSizeM2, info); err == nil {
			resp["buildable_area"] = b
		}
	}
	c.JSON(http.StatusOK, resp)
}

// AnalyzeURL reads a listing from a supported portal URL and scores it
// against the stored market. The listing is not stored.
func (h *Handler) AnalyzeURL(c *gin.Context) {
	target := strings.TrimSpace(c.Query("url"))
	if target == "" {
		badRequest(c, "url is required")
		return
	}
	result, err := h.analyzer.Analyze(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats returns platform-wide counters.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListCities returns per-city aggregates.
func (h *Handler) ListCities(c *gin.Context) {
	cities, err := h.store.CitiesWithStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if cities == nil {
		cities = []models.CityStats{}
	}
	c.JSON(http.StatusOK, gin.H{"cities": cities})
}

// GetCityOverview summarises one city's market.
func (h *Handler) GetCityOverview(c *gin.Context) {
	overview, err := h.market.CityOverview(c.Request.Context(), c.Param("city"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// CompareNeighborhoods compares 2 or 3 comma-separated colonias.
func (h *Handler) CompareNeighborhoods(c *gin.Context) {
	var colonias []string
	for _, part := range strings.Split(c.Query("colonias"), ",") {
		if p := strings.TrimSpace(part); p != "" {
			colonias = append(colonias, p)
		}
	}
	if len(colonias) < 2 || len(colonias) > 3 {
		badRequest(c, "colonias must list between 2 and 3 neighborhoods")
		return
	}
	cmp, err := h.market.CompareNeighborhoods(c.Request.Context(), colonias, c.Query("city"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

// GetMarketTrends returns the monthly aggregates of a city.
func (h *Handler) GetMarketTrends(c *gin.Context) {
	city := strings.TrimSpace(c.Query("city"))
	if city == "" {
		badRequest(c, "city is required")
		return
	}
	months, ok := intQuery(c, "months", defaultTrendMonths, 1, maxTrendMonths)
	if !ok {
		return
	}
	propertyType := c.Query("property_type")

	trends, err := h.market.MarketTrends(c.Request.Context(), city, propertyType, months)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"city":             city,
		"property_type":    propertyType,
		"months_requested": months,
		"trends":           trends,
	})
}

// GetTrending returns the best-scoring recent listings.
func (h *Handler) GetTrending(c *gin.Context) {
	limit, ok := intQuery(c, "limit", defaultTrendingLimit, 1, maxTrendingLimit)
	if !ok {
		return
	}
	listings, err := h.intel.TrendingListings(c.Request.Context(), c.Query("city"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if listings == nil {
		listings = []*models.TrendingListing{}
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// Search runs a full-text query.
func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if utf8.RuneCountInString(q) < h.cfg.SearchMinLength {
		badRequest(c, "q must be at least %d characters", h.cfg.SearchMinLength)
		return
	}
	page, perPage, ok := h.pagination(c)
	if !ok {
		return
	}
	result, err := h.store.Search(c.Request.Context(), q, page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Static serves the frontend from StaticDir for paths no route matched.
func (h *Handler) Static(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		respondError(c, utils.NewError(utils.ErrNotFound, "not found"))
		return
	}
	if h.cfg.StaticDir == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
		respondError(c, utils.NewError(utils.ErrNotFound, "not found"))
		return
	}

	rel := strings.TrimPrefix(filepath.Clean("/"+c.Request.URL.Path), "/")
	if rel == "" {
		rel = "index.html"
	}
	path := filepath.Join(h.cfg.StaticDir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(c, utils.NewError(utils.ErrNotFound, "file not found"))
		return
	}
	c.File(path)
}

func (h *Handler) pagination(c *gin.Context) (int, int, bool) {
	page, ok := intQuery(c, "page", 1, 1, 0)
	if !ok {
		return 0, 0, false
	}
	perPage, ok := intQuery(c, "per_page", h.cfg.DefaultPageSize, 1, h.cfg.MaxPageSize)
	if !ok {
		return 0, 0, false
	}
	return page, perPage, true
}

// intQuery reads an integer parameter within [lo, hi]; hi <= 0 means no upper
// bound. It writes a 400 and returns false on bad input.
func intQuery(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi > 0 && n > hi) {
		if hi > 0 {
			badRequest(c, "%s must be an integer between %d and %d", name, lo, hi)
		} else {
			badRequest(c, "%s must be an integer >= %d", name, lo)
		}
		return 0, false
	}
	return n, true
}

func parseFilters(c *gin.Context) (models.ListingFilters, bool) {
	f := models.ListingFilters{
		City:         c.Query("city"),
		Colonia:      c.Query("colonia"),
		PropertyType: c.Query("property_type"),
	}
	floats := []struct {
		name string
		dst  **float64
	}{
		{"min_price", &f.MinPrice},
		{"max_price", &f.MaxPrice},
		{"min_size", &f.MinSize},
		{"max_size", &f.MaxSize},
	}
	for _, p := range floats {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			badRequest(c, "%s must be a number >= 0", p.name)
			return f, false
		}
		*p.dst = &v
	}
	ints := []struct {
		name string
		dst  **int
	}{
		{"bedrooms", &f.Bedrooms},
		{"bathrooms", &f.Bathrooms},
	}
	for _, p := range ints {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			badRequest(c, "%s must be an integer >= 0", p.name)
			return f, false
		}
		*p.dst = &v
	}
	return f, true
}
