// Package rest implements the processor contracts against a REST payments
// API (Bearer-authenticated, JSON bodies).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/processor"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

const (
	providerName = "rest"

	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 5 * time.Second

	maxResponseBody = 1 << 20
)

// ErrNotConfigured is returned when the base URL or API key is missing.
var ErrNotConfigured = errors.New("processor API not configured")

// APIError is a non-2xx answer from the processor.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor API error: status %d, body: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://live.example-payments.com
	BaseURL string

	// APIKey is sent as a Bearer token.
	APIKey string

	// HTTPClient is optional. If nil, a client with Timeout is used.
	HTTPClient *http.Client

	// Timeout bounds each call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Breaker guards outbound calls. Optional.
	Breaker *processor.Breaker

	Logger  entitlement.Logger
	Metrics entitlement.Metrics
}

// Client talks to the processor's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *processor.Breaker
	group      singleflight.Group
	logger     entitlement.Logger
	metrics    entitlement.Metrics
}

var _ processor.Client = (*Client)(nil)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid processor base URL: %w", err)
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		timeout:    cfg.Timeout,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.logger == nil {
		c.logger = &entitlement.NoopLogger{}
	}
	if c.metrics == nil {
		c.metrics = &entitlement.NoopMetrics{}
	}
	return c, nil
}

// FetchAuthoritative implements processor.Reconciler. Concurrent calls for
// the same subscription share one request.
func (c *Client) FetchAuthoritative(ctx context.Context, subscriptionID string) *processor.Subscription {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil
	}

	// detached so one caller's cancellation does not fail the shared fetch
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(subscriptionID, func() (interface{}, error) {
		return c.fetchSubscription(fetchCtx, subscriptionID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("Subscription lookup failed",
				entitlement.Field{Key: "subscription_id", Value: subscriptionID},
				entitlement.Field{Key: "error", Value: res.Err},
			)
			return nil
		}
		return res.Val.(*processor.Subscription)
	case <-ctx.Done():
		return nil
	}
}

func (c *Client) fetchSubscription(ctx context.Context, subscriptionID string) (*processor.Subscription, error) {
	body, err := c.do(ctx, http.MethodGet, "/subscriptions/{id}", "/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	return parseSubscription(body, subscriptionID)
}

// parseSubscription tolerates the subscription being at the root or nested
// under "data" or "subscription".
func parseSubscription(body []byte, subscriptionID string) (*processor.Subscription, error) {
	p, err := webhook.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("malformed subscription response: %w", err)
	}

	prefix := ""
	for _, candidate := range []string{"data", "subscription", "data.subscription"} {
		if obj, _ := p.Object(candidate); obj != nil {
			prefix = candidate + "."
		}
	}
	at := func(paths ...string) []string {
		out := make([]string, len(paths))
		for i, path := range paths {
			out[i] = prefix + path
		}
		return out
	}

	sub := &processor.Subscription{
		ID:         p.String(at("subscription_id", "id")...).Value,
		Status:     p.String(at("status")...).Value,
		CustomerID: p.String(at("customer_id", "customer.customer_id", "customer.id", "customer")...).Value,
	}
	sub.CurrentPeriodEnd, _ = p.Time(at("next_billing_date", "current_period_end")...)
	sub.CancelAtPeriodEnd, _ = p.Bool(at("cancel_at_period_end", "cancel_at_next_billing_date")...)

	if sub.ID == "" {
		sub.ID = subscriptionID
	}
	if sub.Status == "" && sub.CurrentPeriodEnd == nil && sub.CustomerID == "" {
		return nil, errors.New("malformed subscription response: no known fields")
	}
	return sub, nil
}

type checkoutCustomer struct {
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
}

type checkoutRequest struct {
	ProductID   string            `json:"product_id"`
	Quantity    int               `json:"quantity"`
	Customer    checkoutCustomer  `json:"customer"`
	ReturnURL   string            `json:"return_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
	PaymentLink bool              `json:"payment_link"`
}

// CreateCheckout implements processor.CheckoutCreator.
func (c *Client) CreateCheckout(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutSession, error) {
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	payload, err := json.Marshal(checkoutRequest{
		ProductID: req.ProductID,
		Quantity:  quantity,
		Customer: checkoutCustomer{
			CustomerID: req.CustomerID,
			Email:      req.CustomerEmail,
			Name:       req.CustomerName,
		},
		ReturnURL:   req.ReturnURL,
		Metadata:    req.Metadata,
		PaymentLink: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/subscriptions", "/subscriptions", payload)
	if err != nil {
		return nil, err
	}

	p, err := webhook.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("malformed checkout response: %w", err)
	}
	return &processor.CheckoutSession{
		URL:            p.String("payment_link", "checkout_url", "url", "data.payment_link").Value,
		SubscriptionID: p.String("subscription_id", "data.subscription_id").Value,
		SessionID:      p.String("session_id", "id").Value,
	}, nil
}

// CancelAtPeriodEnd implements processor.Canceller.
func (c *Client) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	if strings.TrimSpace(subscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	_, err := c.do(ctx, http.MethodPatch, "/subscriptions/{id}",
		"/subscriptions/"+url.PathEscape(subscriptionID), []byte(`{"cancel_at_period_end":true}`))
	return err
}

// do performs one authenticated call through the breaker and returns the
// 2xx response body. endpoint is the metrics label.
func (c *Client) do(ctx context.Context, method, endpoint, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	var clientErr error
	err := c.breaker.Execute(ctx, func() error {
		var reqBody io.Reader = http.NoBody
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		start := time.Now()
		res, err := c.httpClient.Do(req)
		c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
		if err != nil {
			c.metrics.RecordAPICall(providerName, endpoint, "error")
			return fmt.Errorf("%s %s: %w", method, endpoint, err)
		}
		defer res.Body.Close()
		c.metrics.RecordAPICall(providerName, endpoint, strconv.Itoa(res.StatusCode))

		body, err = io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: res.StatusCode, Body: truncate(string(body), 512)}
			// 4xx is our fault, not the processor's; it must not trip the breaker
			if res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
				clientErr = apiErr
				return nil
			}
			return apiErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
