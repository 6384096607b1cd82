// Package processor defines the contracts the engine and the checkout
// originator use to talk to the external payment processor.
package processor

import (
	"context"
	"time"
)

// Subscription is the processor's authoritative view of a subscription.
// Zero values mean the processor did not report the field.
type Subscription struct {
	ID                string
	Status            string
	CurrentPeriodEnd  *time.Time
	CustomerID        string
	CancelAtPeriodEnd *bool
}

// Reconciler fetches authoritative subscription state. Implementations
// return nil on any failure (timeout, non-2xx, malformed body, open
// breaker); callers proceed with local defaults.
type Reconciler interface {
	FetchAuthoritative(ctx context.Context, subscriptionID string) *Subscription
}

// CheckoutRequest asks the processor for a hosted checkout session.
type CheckoutRequest struct {
	ProductID     string
	Quantity      int
	CustomerID    string
	CustomerEmail string
	CustomerName  string
	ReturnURL     string
	Metadata      map[string]string
}

// CheckoutSession is the processor's answer to a CheckoutRequest.
type CheckoutSession struct {
	URL            string
	SubscriptionID string
	SessionID      string
}

// CheckoutCreator creates subscriptions via a hosted checkout.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// Canceller flags a subscription to end at its current period end.
type Canceller interface {
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error
}

// Client is the full processor surface used by cmd/payrecon.
type Client interface {
	Reconciler
	CheckoutCreator
	Canceller
}
