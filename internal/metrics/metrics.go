// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_published_messages_total",
			Help: "Messages accepted for fan-out",
		},
	)

	DeliveredMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_delivered_messages_total",
			Help: "Messages queued to subscriber connections",
		},
	)

	DroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mercury_dropped_connections_total",
			Help: "Subscriber connections dropped because their send buffer was full",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mercury_active_subscriptions",
			Help: "Currently open SSE subscriber connections",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercury_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mercury_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SessionGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercury_session_gc_runs_total",
			Help: "Session store value log GC passes by result",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mercury_circuit_breaker_state",
			Help: "Publisher circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercury_circuit_breaker_requests_total",
			Help: "Publisher requests by outcome (success, failure, rejected, rejected_by_broker)",
		},
		[]string{"name", "result"},
	)
)

// RecordHTTPRequest observes a finished request. route is the router
// pattern, not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
