// Package metrics exposes Prometheus collectors for the crawl task/result pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes recorded by the worker.
const (
	TaskDiscarded    = "discarded"
	TaskSucceeded    = "succeeded"
	TaskUnsuccessful = "unsuccessful"
	TaskFailed       = "failed"
)

var (
	brokerSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_sessions_total",
			Help: "Broker sessions established, labeled by role and reason.",
		},
		[]string{"role", "reason"},
	)

	brokerProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_probe_failures_total",
			Help: "Reachability probe cycles that exhausted every attempt.",
		},
	)

	brokerPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Messages published, labeled by routing key and status.",
		},
		[]string{"routing_key", "status"},
	)

	crawlTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_tasks_total",
			Help: "Task messages handled by workers, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	crawlDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawl_duration_seconds",
			Help:    "Wall time of crawl engine runs.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
	)

	finalizerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finalizer_messages_total",
			Help: "Result messages emitted by finalizers, labeled by status.",
		},
		[]string{"status"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Operator API requests, labeled by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Operator API request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	rateLimitDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawl_rate_limit_delay_seconds",
			Help:    "Time crawl requests spent waiting for their host's rate limit.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	finalizerChunkedFilesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "finalizer_chunked_files_total",
			Help: "Result files that had to be split across several messages.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSession records a newly established broker session.
func ObserveSession(role, reason string) {
	brokerSessionsTotal.WithLabelValues(role, reason).Inc()
}

// ObserveProbeFailure records a probe cycle where the broker stayed unreachable.
func ObserveProbeFailure() {
	brokerProbeFailuresTotal.Inc()
}

// ObservePublish records the outcome of one publish call.
func ObservePublish(routingKey string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	brokerPublishTotal.WithLabelValues(routingKey, status).Inc()
}

// ObserveTask increments the task counter for the given outcome.
func ObserveTask(outcome string) {
	crawlTasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawlDuration records how long the engine ran.
func ObserveCrawlDuration(seconds float64) {
	crawlDurationSeconds.Observe(seconds)
}

// ObserveResultMessage records one finalizer publish attempt.
func ObserveResultMessage(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	finalizerMessagesTotal.WithLabelValues(status).Inc()
}

// ObserveChunkedFile records a file split into several messages.
func ObserveChunkedFile() {
	finalizerChunkedFilesTotal.Inc()
}

// ObserveHTTPRequest records one operator API request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on a per-host rate limit.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}
