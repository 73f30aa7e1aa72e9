package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Build metrics
	BuildsTotal   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	BundleSize    *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheEvictionsTotal     prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
	CacheEntries            prometheus.Gauge

	// Remote fetch metrics
	RemoteFetchTotal    *prometheus.CounterVec
	RemoteFetchDuration prometheus.Histogram

	// Publish metrics
	PublishTotal *prometheus.CounterVec

	// Watcher metrics
	WatchEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crunch_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crunch_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_builds_total",
				Help: "Total number of bundle builds",
			},
			[]string{"kind", "status"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crunch_build_duration_seconds",
				Help:    "Bundle build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		BundleSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crunch_bundle_size_bytes",
				Help:    "Size of built bundles in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"kind"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_cache_hits_total",
				Help: "Total number of bundle cache hits",
			},
			[]string{"level"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_cache_misses_total",
				Help: "Total number of bundle cache misses",
			},
			[]string{"level"},
		),
		CacheEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crunch_cache_evictions_total",
				Help: "Total number of bundle cache evictions",
			},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crunch_cache_invalidations_total",
				Help: "Total number of dependency-driven cache invalidations",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crunch_cache_entries",
				Help: "Current number of bundle cache entries",
			},
		),

		RemoteFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_remote_fetch_total",
				Help: "Total number of remote resource fetches",
			},
			[]string{"status"},
		),
		RemoteFetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crunch_remote_fetch_duration_seconds",
				Help:    "Remote resource fetch duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_publish_total",
				Help: "Total number of bundle publish attempts",
			},
			[]string{"backend", "status"},
		),

		WatchEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crunch_watch_events_total",
				Help: "Total number of file watcher events",
			},
			[]string{"op"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.BuildsTotal,
		m.BuildDuration,
		m.BundleSize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheInvalidationsTotal,
		m.CacheEntries,
		m.RemoteFetchTotal,
		m.RemoteFetchDuration,
		m.PublishTotal,
		m.WatchEventsTotal,
	)

	return m
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an http.Handler with request metrics. The path
// label is the route template, not the raw URL, to keep cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
		m.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.written))
	})
}

// statusWriter captures the response status code and size
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}
