// Package metrics exposes Prometheus collectors for the lookup service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	lookupRecordsTotal         *prometheus.CounterVec
	lookupDurationSeconds      prometheus.Histogram
	lookupRetriesTotal         *prometheus.CounterVec
	lookupCacheHitsTotal       prometheus.Counter
	poolInstances              *prometheus.GaugeVec
	poolRetirementsTotal       *prometheus.CounterVec
	poolAcquireWaitSeconds     prometheus.Histogram
	checkpointSavesTotal       *prometheus.CounterVec
	activeLookups              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	memoryUsedPercent          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		lookupRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swatchsync_records_total",
				Help: "Total number of records processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		lookupDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swatchsync_lookup_duration_seconds",
				Help:    "Histogram of end-to-end lookup durations per record.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		)

		lookupRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swatchsync_retries_total",
				Help: "Total retry attempts, labeled by error kind.",
			},
			[]string{"kind"},
		)

		lookupCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "swatchsync_cache_hits_total",
				Help: "Total lookups resolved from the cache without a browser.",
			},
		)

		poolInstances = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "swatchsync_pool_instances",
				Help: "Browser instances by state (available, busy).",
			},
			[]string{"state"},
		)

		poolRetirementsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swatchsync_pool_retirements_total",
				Help: "Total instance retirements, labeled by reason.",
			},
			[]string{"reason"},
		)

		poolAcquireWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "swatchsync_pool_acquire_wait_seconds",
				Help:    "Histogram of time spent waiting for a pooled instance.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		checkpointSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "swatchsync_checkpoint_saves_total",
				Help: "Total checkpoint save attempts, labeled by status.",
			},
			[]string{"status"},
		)

		activeLookups = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "swatchsync_active_lookups",
				Help: "Number of records currently being processed.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "swatchsync_rate_limit_delays_seconds",
				Help:    "Histogram of navigation rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

		memoryUsedPercent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "swatchsync_memory_used_percent",
				Help: "System memory utilization sampled by the resource monitor.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord increments the record counter for an outcome
// (updated, failed, skipped, cached) and records its duration.
func ObserveRecord(outcome string, duration time.Duration) {
	lookupRecordsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		lookupDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveRetry counts one retry attempt for the classified error kind.
func ObserveRetry(kind string) {
	lookupRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveCacheHit counts a lookup satisfied by the cache.
func ObserveCacheHit() {
	lookupCacheHitsTotal.Inc()
}

// SetPoolInstances records the pool occupancy gauges.
func SetPoolInstances(available, busy int) {
	poolInstances.WithLabelValues("available").Set(float64(available))
	poolInstances.WithLabelValues("busy").Set(float64(busy))
}

// ObserveRetirement counts an instance retirement (usage_limit, health, crash).
func ObserveRetirement(reason string) {
	poolRetirementsTotal.WithLabelValues(reason).Inc()
}

// ObserveAcquireWait records how long a caller waited for an instance.
func ObserveAcquireWait(duration time.Duration) {
	poolAcquireWaitSeconds.Observe(duration.Seconds())
}

// ObserveCheckpointSave counts a checkpoint save attempt by status (ok, error).
func ObserveCheckpointSave(status string) {
	checkpointSavesTotal.WithLabelValues(status).Inc()
}

// IncActiveLookups increments the in-flight lookup gauge.
func IncActiveLookups() {
	activeLookups.Inc()
}

// DecActiveLookups decrements the in-flight lookup gauge.
func DecActiveLookups() {
	activeLookups.Dec()
}

// ObserveRateLimitDelay records the duration of a navigation rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetMemoryUsedPercent records the latest resource monitor sample.
func SetMemoryUsedPercent(percent float64) {
	memoryUsedPercent.Set(percent)
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
