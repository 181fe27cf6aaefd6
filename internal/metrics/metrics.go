// Package metrics provides Prometheus instrumentation for the broker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamRequests counts provider HTTP calls by provider and status.
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_upstream_requests_total",
		Help: "Upstream provider HTTP requests",
	}, []string{"provider", "status"})

	// CacheHits counts snapshot reads served entirely from the cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_cache_hits_total",
		Help: "Snapshot reads served from cache",
	})

	// CacheMisses counts snapshot reads that required a provider fetch.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_cache_misses_total",
		Help: "Snapshot reads that hit the provider",
	})

	// ScanItems counts items processed by the full-scan job, by outcome.
	ScanItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_scan_items_total",
		Help: "Items processed by the full-scan job",
	}, []string{"outcome"}) // kept, skipped, suspect, empty

	// ScanDuration tracks full-scan wall time per world.
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_scan_duration_seconds",
		Help:    "Full-scan job duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"world"})

	// ScansTotal counts scan runs by result.
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_scans_total",
		Help: "Full-scan job runs",
	}, []string{"result"}) // published, empty, failed

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broker_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broker_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
