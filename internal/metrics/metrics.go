// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestFetchesTotal          *prometheus.CounterVec
	harvestFetchDurationSeconds  *prometheus.HistogramVec
	harvestResultsTotal          *prometheus.CounterVec
	harvestRateLimitDelaySeconds *prometheus.HistogramVec
	harvestActiveWorkers         prometheus.Gauge
	harvestStateSetSize          *prometheus.GaugeVec
	harvestPersistErrorsTotal    *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_fetches_total",
				Help: "Total number of network calls, labeled by credential owner and outcome.",
			},
			[]string{"credential", "outcome"},
		)

		harvestFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_fetch_duration_seconds",
				Help:    "Histogram of network call latencies, excluding rate limit waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"credential"},
		)

		harvestResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_identifier_results_total",
				Help: "Identifiers that were skipped, deferred or failed, labeled by credential owner.",
			},
			[]string{"credential", "result"},
		)

		harvestRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delays_seconds",
				Help:    "Histogram of per-credential permit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"credential"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of credential workers currently walking a shard.",
			},
		)

		harvestStateSetSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvest_state_set_size",
				Help: "Number of identifiers held by each classification set.",
			},
			[]string{"set"},
		)

		harvestPersistErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_persistence_errors_total",
				Help: "Failed durable writes, labeled by state backend.",
			},
			[]string{"backend"},
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
	})
}

// SanitizeLabel normalizes free-form label values such as credential owners.
// It returns "unknown" for blank input.
func SanitizeLabel(raw string) string {
	clean := strings.ToLower(strings.TrimSpace(raw))
	if clean == "" {
		return "unknown"
	}
	return clean
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one network call.
func ObserveFetch(credential, outcome string, duration time.Duration) {
	Init()
	owner := SanitizeLabel(credential)
	harvestFetchesTotal.WithLabelValues(owner, outcome).Inc()
	if duration > 0 {
		harvestFetchDurationSeconds.WithLabelValues(owner).Observe(duration.Seconds())
	}
}

// ObserveSkipped counts an identifier that needed no network call.
func ObserveSkipped(credential string) {
	observeResult(credential, "skipped")
}

// ObserveDeferred counts a transient failure left for a later run.
func ObserveDeferred(credential string) {
	observeResult(credential, "deferred")
}

// ObserveFailed counts an identifier whose classification was not persisted.
func ObserveFailed(credential string) {
	observeResult(credential, "failed")
}

func observeResult(credential, result string) {
	Init()
	harvestResultsTotal.WithLabelValues(SanitizeLabel(credential), result).Inc()
}

// ObserveRateLimitDelay records the duration of a permit wait.
func ObserveRateLimitDelay(credential string, duration time.Duration) {
	Init()
	harvestRateLimitDelaySeconds.WithLabelValues(SanitizeLabel(credential)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}

// SetStateSize publishes the size of one classification set.
func SetStateSize(set string, size int) {
	Init()
	harvestStateSetSize.WithLabelValues(set).Set(float64(size))
}

// ObservePersistError counts a failed durable write.
func ObservePersistError(backend string) {
	Init()
	harvestPersistErrorsTotal.WithLabelValues(SanitizeLabel(backend)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
