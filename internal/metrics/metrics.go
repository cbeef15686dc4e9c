// Package metrics exposes Prometheus collectors for the snapshot pipeline.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesCrawledTotal          *prometheus.CounterVec
	capturesTotal              *prometheus.CounterVec
	assetsTotal                *prometheus.CounterVec
	assetBytesTotal            prometheus.Counter
	documentsTransformedTotal  *prometheus.CounterVec
	documentsSanitizedTotal    *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesnap_pages_crawled_total",
				Help: "Total number of pages fetched by the crawl graph builder, labeled by status.",
			},
			[]string{"status"},
		)

		capturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesnap_captures_total",
				Help: "Total number of rendered snapshots, labeled by viewport and status.",
			},
			[]string{"viewport", "status"},
		)

		assetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesnap_assets_total",
				Help: "Total number of asset downloads, labeled by folder and status.",
			},
			[]string{"folder", "status"},
		)

		assetBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitesnap_asset_bytes_total",
				Help: "Total number of asset bytes written to the output tree.",
			},
		)

		documentsTransformedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesnap_documents_transformed_total",
				Help: "Total number of documents produced by the transformer, labeled by status.",
			},
			[]string{"status"},
		)

		documentsSanitizedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitesnap_documents_sanitized_total",
				Help: "Total number of documents visited by the sanitizer, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitesnap_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageCrawled records one crawl fetch outcome.
func ObservePageCrawled(status string) {
	Init()
	pagesCrawledTotal.WithLabelValues(status).Inc()
}

// ObserveCapture records one viewport capture outcome.
func ObserveCapture(viewport, status string) {
	Init()
	capturesTotal.WithLabelValues(viewport, status).Inc()
}

// ObserveAsset records one asset download outcome and the bytes written.
func ObserveAsset(folder, status string, size int) {
	Init()
	assetsTotal.WithLabelValues(folder, status).Inc()
	if size > 0 {
		assetBytesTotal.Add(float64(size))
	}
}

// ObserveTransform records one document transformation outcome.
func ObserveTransform(status string) {
	Init()
	documentsTransformedTotal.WithLabelValues(status).Inc()
}

// ObserveSanitize records one sanitizer result ("changed", "unchanged", "skipped", "failed").
func ObserveSanitize(result string) {
	Init()
	documentsSanitizedTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
