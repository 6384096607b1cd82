package entitlement

import "time"

// Metrics defines the interface for tracking webhook reconciliation.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a webhook event after processing.
	// kind: classified event kind (e.g., "payment_succeeded", "unknown")
	// status: outcome status ("applied", "duplicate", "ignored", "skipped") or "error"
	RecordWebhookEvent(kind, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(kind string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g., "auth_failed", "invalid_payload", "payload_too_large", "processing_error"
	RecordWebhookError(errorType string)

	// RecordLedgerClaim records an idempotency ledger claim.
	// result: "first", "duplicate", "no_key", "released" or "error"
	RecordLedgerClaim(backend, result string)

	// RecordTransition records an applied state transition by target status.
	RecordTransition(kind, status string)

	// RecordEnrichment records a reconciliation lookup.
	// result: "hit", "unavailable" or "skipped"
	RecordEnrichment(result string)

	// RecordAPICall records an API call to the payment processor.
	// status: HTTP status code as string, or "error" for transport failures
	RecordAPICall(processor, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(processor, endpoint string, duration time.Duration)

	// RecordCircuitBreakerStateChange records a breaker state transition.
	RecordCircuitBreakerStateChange(name, state string)

	// RecordCheckout records a checkout session request.
	// result: "created" or the rejection reason
	RecordCheckout(plan, result string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_ string)                               {}
func (n *NoopMetrics) RecordLedgerClaim(_, _ string)                             {}
func (n *NoopMetrics) RecordTransition(_, _ string)                              {}
func (n *NoopMetrics) RecordEnrichment(_ string)                                 {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                              {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)        {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_, _ string)               {}
func (n *NoopMetrics) RecordCheckout(_, _ string)                                {}
