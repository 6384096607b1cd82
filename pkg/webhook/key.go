package webhook

import (
	"strconv"
	"strings"
)

// KeySource records which rule produced an idempotency key.
type KeySource string

const (
	KeyFromHeader    KeySource = "header"
	KeyFromPayloadID KeySource = "payload_id"
	KeyFromPayment   KeySource = "payment_id"
	KeyFromComposite KeySource = "composite"
	KeyNone          KeySource = "none"
)

// DeriveKey picks the ledger key for an event in priority order: the
// processor's delivery id, the payload event id, the payment id (payment
// kinds only), then eventType:subscriptionID:projectID. A bare subscription
// id is never used because renewals, holds and cancellations share it.
func DeriveKey(ev *Event, headerID string) (string, KeySource) {
	if id := strings.TrimSpace(headerID); id != "" {
		return id, KeyFromHeader
	}
	if ev.ID.Found() {
		return ev.ID.Value, KeyFromPayloadID
	}
	if ev.Kind == KindPaymentSucceeded && ev.PaymentID.Found() {
		return ev.PaymentID.Value, KeyFromPayment
	}
	if ev.SubscriptionID.Found() && ev.Metadata.ProjectID > 0 {
		return strings.ToLower(ev.Type) + ":" + ev.SubscriptionID.Value + ":" + strconv.FormatInt(ev.Metadata.ProjectID, 10), KeyFromComposite
	}
	return "", KeyNone
}
