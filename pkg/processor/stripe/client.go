// Package stripe adapts the processor contracts to Stripe.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/processor"
)

const (
	providerName = "stripe"

	// DefaultTimeout bounds every Stripe call.
	DefaultTimeout = 5 * time.Second
)

// ErrAPIKeyRequired is returned when no API key is configured.
var ErrAPIKeyRequired = errors.New("stripe API key is required")

// Config configures a Client.
type Config struct {
	// APIKey is the Stripe secret key.
	APIKey string

	// BackendURL overrides the API host (stripe-mock, tests).
	BackendURL string

	// HTTPClient is optional.
	HTTPClient *http.Client

	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Breaker guards Stripe calls. Optional.
	Breaker *processor.Breaker

	Logger  entitlement.Logger
	Metrics entitlement.Metrics
}

// Client implements processor.Client on top of stripe-go.
type Client struct {
	stripeClient *stripe.Client
	timeout      time.Duration
	breaker      *processor.Breaker
	logger       entitlement.Logger
	metrics      entitlement.Metrics
}

var _ processor.Client = (*Client)(nil)

// New creates a Stripe-backed processor client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &Client{
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = &entitlement.NoopLogger{}
	}
	if c.metrics == nil {
		c.metrics = &entitlement.NoopMetrics{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.timeout}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}
	c.stripeClient = stripe.NewClient(cfg.APIKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendCfg)))
	return c, nil
}

// FetchAuthoritative implements processor.Reconciler.
func (c *Client) FetchAuthoritative(ctx context.Context, subscriptionID string) *processor.Subscription {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil
	}

	var sub *stripe.Subscription
	err := c.call(ctx, "/v1/subscriptions/{id}", func(ctx context.Context) error {
		var err error
		sub, err = c.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
		return err
	})
	if err != nil {
		c.logger.Warn("Stripe subscription lookup failed",
			entitlement.Field{Key: "subscription_id", Value: subscriptionID},
			entitlement.Field{Key: "error", Value: err},
		)
		return nil
	}
	return fromStripe(sub)
}

// fromStripe maps a Stripe subscription. Since API version 2025-03-31 the
// period end lives on the items; the latest one wins.
func fromStripe(sub *stripe.Subscription) *processor.Subscription {
	if sub == nil {
		return nil
	}

	out := &processor.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	cancel := sub.CancelAtPeriodEnd
	out.CancelAtPeriodEnd = &cancel
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > periodEnd {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	return out
}

// CreateCheckout implements processor.CheckoutCreator. ProductID is a Stripe
// price id; metadata is set on both the session and the subscription so every
// subscription event carries it.
func (c *Client) CreateCheckout(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutSession, error) {
	quantity := int64(req.Quantity)
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(req.ProductID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL:       stripe.String(req.ReturnURL),
		CancelURL:        stripe.String(req.ReturnURL),
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
		params.SubscriptionData.AddMetadata(k, v)
	}
	if userID := req.Metadata["user_id"]; userID != "" {
		params.ClientReferenceID = stripe.String(userID)
	}
	switch {
	case req.CustomerID != "":
		params.Customer = stripe.String(req.CustomerID)
	case req.CustomerEmail != "":
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	var session *stripe.CheckoutSession
	err := c.call(ctx, "/v1/checkout/sessions", func(ctx context.Context) error {
		var err error
		session, err = c.stripeClient.V1CheckoutSessions.Create(ctx, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	out := &processor.CheckoutSession{URL: session.URL, SessionID: session.ID}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	return out, nil
}

// CancelAtPeriodEnd implements processor.Canceller.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	params := &stripe.SubscriptionUpdateParams{CancelAtPeriodEnd: stripe.Bool(true)}
	err := c.call(ctx, "/v1/subscriptions/{id}", func(ctx context.Context) error {
		_, err := c.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// call runs fn with a timeout through the breaker and records metrics.
// Stripe 4xx errors are returned without counting against the breaker.
func (c *Client) call(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var clientErr error
	err := c.breaker.Execute(ctx, func() error {
		err := fn(ctx)
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
			clientErr = err
			return nil
		}
		return err
	})
	if err == nil {
		err = clientErr
	}
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	c.metrics.RecordAPICall(providerName, endpoint, callStatus(err))
	return err
}

func callStatus(err error) string {
	if err == nil {
		return "success"
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
		return fmt.Sprintf("%d", stripeErr.HTTPStatusCode)
	}
	if errors.Is(err, processor.ErrCircuitOpen) {
		return "circuit_open"
	}
	return "error"
}
