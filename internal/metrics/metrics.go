// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerTasksTotal           *prometheus.CounterVec
	crawlerMatchesIngestedTotal prometheus.Counter
	crawlerParticipantsTotal    prometheus.Counter
	crawlerCycleDurationSeconds prometheus.Histogram
	crawlerBackoffsTotal        prometheus.Counter
	crawlerActiveFetches        prometheus.Gauge
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total number of crawl tasks resolved, labeled by outcome status.",
			},
			[]string{"status"},
		)

		crawlerMatchesIngestedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_matches_ingested_total",
				Help: "Total number of matches archived.",
			},
		)

		crawlerParticipantsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_match_participants_total",
				Help: "Total participant lines written across archived matches.",
			},
		)

		crawlerCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawler_cycle_duration_seconds",
				Help:    "Histogram of orchestrator cycle durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		crawlerBackoffsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_rate_limit_backoffs_total",
				Help: "Total number of process-wide rate limit backoffs taken.",
			},
		)

		crawlerActiveFetches = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_fetches",
				Help: "Number of player fetches currently in flight.",
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask increments the task counter for the given outcome status.
func ObserveTask(status string) {
	crawlerTasksTotal.WithLabelValues(status).Inc()
}

// ObserveMatchIngested records one archived match and its participants.
func ObserveMatchIngested(participants int) {
	crawlerMatchesIngestedTotal.Inc()
	crawlerParticipantsTotal.Add(float64(participants))
}

// ObserveCycle records the duration of one orchestrator cycle.
func ObserveCycle(duration time.Duration) {
	crawlerCycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveBackoff increments the rate limit backoff counter.
func ObserveBackoff() {
	crawlerBackoffsTotal.Inc()
}

// IncActiveFetches increments the in-flight fetch gauge.
func IncActiveFetches() {
	crawlerActiveFetches.Inc()
}

// DecActiveFetches decrements the in-flight fetch gauge.
func DecActiveFetches() {
	crawlerActiveFetches.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
