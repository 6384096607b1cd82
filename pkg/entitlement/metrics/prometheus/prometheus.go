package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

const subsystem = "payments"

// Metrics implements entitlement.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal        *prometheus.CounterVec
	webhookProcessingDuration *prometheus.HistogramVec
	webhookErrorsTotal        *prometheus.CounterVec
	ledgerClaimsTotal         *prometheus.CounterVec
	transitionsTotal          *prometheus.CounterVec
	enrichmentsTotal          *prometheus.CounterVec
	apiCallsTotal             *prometheus.CounterVec
	apiCallDuration           *prometheus.HistogramVec
	circuitBreakerChanges     *prometheus.CounterVec
	checkoutsTotal            *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_total",
			Help:      "Total number of processed payment webhook events.",
		}, []string{"kind", "status"}),

		webhookProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of webhook processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook processing errors.",
		}, []string{"error_type"}),

		ledgerClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_claims_total",
			Help:      "Total number of idempotency ledger claims by result.",
		}, []string{"backend", "result"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transitions_total",
			Help:      "Total number of applied subscription state transitions.",
		}, []string{"kind", "status"}),

		enrichmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enrichments_total",
			Help:      "Total number of reconciliation lookups by result.",
		}, []string{"result"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_calls_total",
			Help:      "Total number of API calls to the payment processor.",
		}, []string{"processor", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to the payment processor in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor", "endpoint"}),

		circuitBreakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"name", "state"}),

		checkoutsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "checkout_sessions_total",
			Help:      "Total number of checkout session requests by result.",
		}, []string{"plan", "result"}),
	}
}

func (m *Metrics) RecordWebhookEvent(kind, status string) {
	m.webhookEventsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordWebhookProcessingDuration(kind string, duration time.Duration) {
	m.webhookProcessingDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) RecordWebhookError(errorType string) {
	m.webhookErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) RecordLedgerClaim(backend, result string) {
	m.ledgerClaimsTotal.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) RecordTransition(kind, status string) {
	m.transitionsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordEnrichment(result string) {
	m.enrichmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAPICall(processor, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(processor, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(processor, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(processor, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordCircuitBreakerStateChange(name, state string) {
	m.circuitBreakerChanges.WithLabelValues(name, state).Inc()
}

func (m *Metrics) RecordCheckout(plan, result string) {
	m.checkoutsTotal.WithLabelValues(plan, result).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) entitlement.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
