// Package metrics exposes Prometheus collectors for harvest runs and the query API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackharvest_upstream_requests_total",
			Help: "Upstream API calls, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	upstreamRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackharvest_upstream_request_duration_seconds",
			Help:    "Latency of upstream API calls, labeled by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackharvest_retries_total",
			Help: "Page retries after a recoverable failure, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	fetchStopsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackharvest_fetch_stops_total",
			Help: "Paginated fetches finished, labeled by endpoint and stop reason.",
		},
		[]string{"endpoint", "reason"},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stackharvest_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the shared rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	quotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackharvest_quota_remaining",
			Help: "Most recent quota_remaining reported by the upstream API.",
		},
	)

	questionsCollectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackharvest_questions_collected_total",
			Help: "Questions appended to a harvest result.",
		},
	)

	answersCollectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackharvest_answers_collected_total",
			Help: "Answers attached to harvested questions.",
		},
	)

	checkpointWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackharvest_checkpoint_writes_total",
			Help: "Checkpoint writes, labeled by store and status.",
		},
		[]string{"store", "status"},
	)

	checkpointBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackharvest_checkpoint_bytes",
			Help: "Size of the most recent checkpoint.",
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstreamRequest records one upstream call and its classified outcome.
func ObserveUpstreamRequest(endpoint, outcome string, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry counts a page retry.
func ObserveRetry(endpoint, outcome string) {
	retriesTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveFetchStop counts a finished paginated fetch by stop reason.
func ObserveFetchStop(endpoint, reason string) {
	fetchStopsTotal.WithLabelValues(endpoint, reason).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// SetQuotaRemaining publishes the latest quota reading.
func SetQuotaRemaining(remaining int) {
	quotaRemaining.Set(float64(remaining))
}

// AddCollected counts questions and answers appended to a result.
func AddCollected(questions, answers int) {
	if questions > 0 {
		questionsCollectedTotal.Add(float64(questions))
	}
	if answers > 0 {
		answersCollectedTotal.Add(float64(answers))
	}
}

// ObserveCheckpoint records a checkpoint write to the named store.
func ObserveCheckpoint(store string, err error, size int) {
	status := "success"
	if err != nil {
		status = "error"
	}
	checkpointWritesTotal.WithLabelValues(store, status).Inc()
	if err == nil && size > 0 {
		checkpointBytes.Set(float64(size))
	}
}
