package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  *prometheus.GaugeVec

	// Upstream metrics
	UpstreamErrors *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitState       *prometheus.GaugeVec
	CircuitTransitions *prometheus.CounterVec
	CircuitRejections  *prometheus.CounterVec

	// Health check metrics
	HealthCheckStatus   *prometheus.GaugeVec
	HealthCheckDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitRejected prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates a new Metrics instance registered on the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of proxied requests",
			},
			[]string{"service", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Proxied request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
		ActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_requests_active",
				Help: "Number of in-flight proxied requests",
			},
			[]string{"service"},
		),

		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Total number of upstream failures",
			},
			[]string{"service", "error_type"},
		),

		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_state",
				Help: "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		CircuitTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"service", "to"},
		),
		CircuitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_rejections_total",
				Help: "Requests rejected by an open circuit breaker",
			},
			[]string{"service"},
		),

		HealthCheckStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_health_check_status",
				Help: "Health check status per service (1=healthy, 0=unhealthy)",
			},
			[]string{"service"},
		),
		HealthCheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_health_check_duration_seconds",
				Help:    "Health check probe latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),

		RateLimitRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejected_total",
				Help: "Requests rejected by the rate limiter",
			},
		),

		gatherer: gatherer,
	}
}

// Handler returns the Prometheus scrape handler for this metrics set
func (m *Metrics) Handler() http.Handler {
	if m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
