package oplog

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mutualaid"

// Metrics holds the process counters and histograms.
type Metrics struct {
	ledgerOperations   *prometheus.CounterVec
	ledgerCredits      *prometheus.CounterVec
	rentalOperations   *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// NewMetrics registers every collector on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		// Labels: operation (credit, debit), reason, status (ok, error)
		ledgerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Wallet balance movements by operation, reason and status",
		}, []string{"operation", "reason", "status"}),
		ledgerCredits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "credits_total",
			Help:      "Credits moved by successful postings",
		}, []string{"operation", "reason"}),
		// Labels: operation, to (target status), status, code
		rentalOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "rental",
			Name:      "operations_total",
			Help:      "Rental engine operations by target status and outcome",
		}, []string{"operation", "to", "status", "code"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}

// ObserveRequest records one served HTTP request.
func (metrics *Metrics) ObserveRequest(method string, route string, statusCode int, elapsed time.Duration) {
	if metrics == nil {
		return
	}
	metrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	metrics.httpRequestLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
