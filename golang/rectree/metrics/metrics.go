// Package metrics holds the Prometheus instrumentation of the recommendation service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TreeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rectree_operations_total",
			Help: "Total number of tree operations",
		},
		[]string{"operation", "outcome"}, // push/recommend/query, ok/error
	)

	TreeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rectree_operation_duration_seconds",
			Help:    "Duration of tree operations in seconds, classifier training included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"operation"},
	)

	TreeLeaves = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rectree_leaves",
			Help: "Current number of leaves in the tree",
		},
	)

	TreeSplits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rectree_splits",
			Help: "Current number of splits in the tree",
		},
	)

	TreeDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rectree_depth",
			Help: "Current depth of the tree",
		},
	)

	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total number of requests sent to the music catalog",
		},
		[]string{"endpoint", "status_code"},
	)

	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Catalog request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	CatalogRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_rate_limited_total",
			Help: "Total number of 429 answers from the music catalog",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)
)

// RecordTreeOperation records one push, recommend or query.
func RecordTreeOperation(operation string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TreeOperations.WithLabelValues(operation, outcome).Inc()
	TreeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateTreeShape publishes the current shape of the tree.
func UpdateTreeShape(leaves, splits, depth int) {
	TreeLeaves.Set(float64(leaves))
	TreeSplits.Set(float64(splits))
	TreeDepth.Set(float64(depth))
}

// RecordCatalogRequest records one catalog round trip.
func RecordCatalogRequest(endpoint, statusCode string, duration time.Duration) {
	CatalogRequests.WithLabelValues(endpoint, statusCode).Inc()
	CatalogRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCircuitBreakerTransition records a state change; states follow the gobreaker numbering.
func RecordCircuitBreakerTransition(name, from, to string, state int) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordAPIRequest records one served HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
