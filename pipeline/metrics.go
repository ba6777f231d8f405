package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scrape counters exported by the pipeline.
type Metrics struct {
	ScrapedTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	StoredTotal     *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers the pipeline metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScrapedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polpi",
			Name:      "scraped_listings_total",
			Help:      "Raw listings returned by each source",
		}, []string{"source"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polpi",
			Name:      "scrape_errors_total",
			Help:      "Failed source scrapes",
		}, []string{"source"}),
		StoredTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "polpi",
			Name:      "stored_listings_total",
			Help:      "Clean listings upserted into the database",
		}, []string{"source"}),
		DurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "polpi",
			Name:      "scrape_duration_seconds",
			Help:      "Wall time of one source scrape",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"source"}),
	}
}
