// Package metrics exposes Prometheus collectors for the pipeline and API.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal       *prometheus.CounterVec
	fetchDurationSeconds    prometheus.Histogram
	eventsNormalizedTotal   prometheus.Counter
	eventsSkippedTotal      prometheus.Counter
	syncDurationSeconds     prometheus.Histogram
	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDurationSecs *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quakepipe_runs_total",
				Help: "Total pipeline runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quakepipe_fetch_duration_seconds",
				Help:    "Histogram of feed capture latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		eventsNormalizedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quakepipe_events_normalized_total",
				Help: "Total events that survived normalization.",
			},
		)

		eventsSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quakepipe_events_skipped_total",
				Help: "Total malformed feed features skipped by the normalizer.",
			},
		)

		syncDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quakepipe_sync_duration_seconds",
				Help:    "Histogram of relational sync latencies per run.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quakepipe_http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quakepipe_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveRun records a finished pipeline run.
func ObserveRun(status string) {
	Init()
	pipelineRunsTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records a feed capture latency.
func ObserveFetch(d time.Duration) {
	Init()
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveNormalize records normalization output counts.
func ObserveNormalize(persisted, skipped int) {
	Init()
	eventsNormalizedTotal.Add(float64(persisted))
	eventsSkippedTotal.Add(float64(skipped))
}

// ObserveSync records a relational sync latency.
func ObserveSync(d time.Duration) {
	Init()
	syncDurationSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecs.WithLabelValues(method, route).Observe(d.Seconds())
}
