// Package api serves listings and price intelligence over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"polpi-mx/models"
	"polpi-mx/scraper"
	"polpi-mx/scraper/portals"
	"polpi-mx/services"
	"polpi-mx/utils"
	"polpi-mx/zoning"
)

// Version is reported by the health endpoint.
const Version = "2.0.0"

// Store is the listing store behind the API.
type Store interface {
	services.MarketData
	ListingsPaginated(ctx context.Context, filters models.ListingFilters, page, perPage int, sort models.SortOrder) (*models.Page, error)
	Search(ctx context.Context, q string, page, perPage int) (*models.Page, error)
	IncrementViews(ctx context.Context, id string) error
	PriceHistory(ctx context.Context, id string) ([]models.PriceHistoryEntry, error)
	Stats(ctx context.Context) (*models.PlatformStats, error)
	CitiesWithStats(ctx context.Context) ([]models.CityStats, error)
	Ping(ctx context.Context) error
}

// Config holds the HTTP server settings.
type Config struct {
	Addr            string
	Debug           bool
	CORSOrigins     []string
	StaticDir       string
	DefaultPageSize int
	MaxPageSize     int
	SearchMinLength int

	// Fetcher reads listing pages for /analyze-url. Nil selects the portal
	// detail fetcher.
	Fetcher services.ListingFetcher
	// USDRate converts USD prices of analyzed URLs.
	USDRate float64

	// Registry collects the HTTP metrics and is served on /metrics. Callers
	// pass their own to expose other collectors next to them.
	Registry *prometheus.Registry

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.DefaultPageSize <= 0 {
		c.DefaultPageSize = 20
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = 100
	}
	if c.SearchMinLength <= 0 {
		c.SearchMinLength = 3
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP API with its lifecycle.
type Server struct {
	router *gin.Engine
	server *http.Server
	cfg    Config
	logger *utils.Logger
}

// NewServer builds the router: recovery, request logging, CORS and metrics
// middleware, then the /api/v1 routes, /metrics and the static frontend.
// A nil rules table disables the zoning route.
func NewServer(cfg Config, store Store, rules *zoning.Rules, logger *utils.Logger) *Server {
	cfg.SetDefaults()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := cfg.Registry
	metrics := newHTTPMetrics(reg)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.CORSOrigins))
	router.Use(metrics.middleware())

	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = portals.NewDetailFetcher(scraper.Options{}, logger)
	}
	intel := services.NewIntelligence(store, logger)
	h := &Handler{
		store:    store,
		intel:    intel,
		market:   services.NewMarket(store, intel, logger),
		analyzer: services.NewURLAnalyzer(fetcher, services.NewCleaner(logger, cfg.USDRate), intel, logger),
		zoning:   rules,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
	SetupRoutes(router, h)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	router.NoRoute(h.Static)

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("[api] Listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("[api] HTTP server stopped")
	return nil
}

// SetupRoutes registers every API route on router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", h.Health)

		listings := v1.Group("/listings")
		{
			listings.GET("", h.ListListings)
			listings.GET("/:id", h.GetListing)
			listings.GET("/:id/analysis", h.GetAnalysis)
			listings.GET("/:id/investment", h.GetInvestment)
			listings.GET("/:id/report", h.GetReport)
			listings.GET("/:id/history", h.GetPriceHistory)
			listings.GET("/:id/zoning", h.GetZoning)
		}

		v1.GET("/stats", h.GetStats)
		v1.GET("/cities", h.ListCities)
		v1.GET("/cities/:city/overview", h.GetCityOverview)
		v1.GET("/neighborhoods/compare", h.CompareNeighborhoods)
		v1.GET("/market/trends", h.GetMarketTrends)
		v1.GET("/market/trending", h.GetTrending)
		v1.GET("/search", h.Search)
		v1.GET("/analyze-url", h.AnalyzeURL)
	}
}
