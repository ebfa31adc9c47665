// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	cacheLookupsTotal     *prometheus.CounterVec
	itemsTotal            *prometheus.CounterVec
	rateLimitWaitsSeconds prometheus.Histogram
	crawlsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_fetches_total",
				Help: "Total outbound fetch attempts, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotlist_fetch_duration_seconds",
				Help:    "Histogram of fetch attempt latencies, labeled by endpoint.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_cache_lookups_total",
				Help: "Cache lookups, labeled by result (hit/miss).",
			},
			[]string{"result"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_items_total",
				Help: "Hot-list items handled, labeled by outcome (ok/skipped/degraded).",
			},
			[]string{"outcome"},
		)

		rateLimitWaitsSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hotlist_rate_limit_wait_seconds",
				Help:    "Histogram of admission-control wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotlist_crawls_total",
				Help: "Completed crawl runs, labeled by status.",
			},
			[]string{"status"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(endpoint string, success bool, duration time.Duration) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	fetchesTotal.WithLabelValues(endpoint, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveItem records the outcome of one hot-list item.
func ObserveItem(outcome string) {
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitWait records time spent blocked on admission control.
func ObserveRateLimitWait(d time.Duration) {
	if d > 0 {
		rateLimitWaitsSeconds.Observe(d.Seconds())
	}
}

// ObserveCrawl records a finished crawl run.
func ObserveCrawl(status string) {
	crawlsTotal.WithLabelValues(status).Inc()
}
