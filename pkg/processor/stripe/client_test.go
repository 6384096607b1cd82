package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payrecon/pkg/processor"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, breaker *processor.Breaker) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "sk_test_123", BackendURL: srv.URL, Timeout: time.Second, Breaker: breaker})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrAPIKeyRequired)
}

func TestFetchAuthoritative(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "sub_1",
			"object": "subscription",
			"status": "trialing",
			"cancel_at_period_end": true,
			"customer": "cus_1",
			"items": {"object": "list", "data": [
				{"id": "si_1", "object": "subscription_item", "current_period_end": 1740830400},
				{"id": "si_2", "object": "subscription_item", "current_period_end": 1743465600}
			]}
		}`)
	}, nil)

	sub := c.FetchAuthoritative(context.Background(), "sub_1")
	require.NotNil(t, sub)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, "trialing", sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)
	require.NotNil(t, sub.CancelAtPeriodEnd)
	assert.True(t, *sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.True(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC).Equal(*sub.CurrentPeriodEnd))
}

func TestFetchAuthoritative_FailuresReturnNil(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"boom"}}`)
	}, processor.NewBreaker(2, time.Minute, nil))

	for i := 0; i < 4; i++ {
		assert.Nil(t, c.FetchAuthoritative(context.Background(), "sub_1"))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Nil(t, c.FetchAuthoritative(context.Background(), ""))
}

func TestCreateCheckout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "price_spotlight", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "1", r.PostForm.Get("line_items[0][quantity]"))
		assert.Equal(t, "u1", r.PostForm.Get("metadata[user_id]"))
		assert.Equal(t, "42", r.PostForm.Get("subscription_data[metadata][project_id]"))
		assert.Equal(t, "spotlight", r.PostForm.Get("subscription_data[metadata][plan_type]"))
		assert.Equal(t, "u1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "cus_1", r.PostForm.Get("customer"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_1"}`)
	}, nil)

	session, err := c.CreateCheckout(context.Background(), processor.CheckoutRequest{
		ProductID:  "price_spotlight",
		CustomerID: "cus_1",
		ReturnURL:  "https://app.example.com/projects/42",
		Metadata:   map[string]string{"user_id": "u1", "project_id": "42", "plan_type": "spotlight"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", session.URL)
	assert.Equal(t, "cs_1", session.SessionID)
	assert.Empty(t, session.SubscriptionID)
}

func TestCancelAtPeriodEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"sub_1","object":"subscription","cancel_at_period_end":true}`)
	}, nil)

	assert.NoError(t, c.CancelAtPeriodEnd(context.Background(), "sub_1"))
}

func TestCancelAtPeriodEnd_NotFoundDoesNotTripBreaker(t *testing.T) {
	breaker := processor.NewBreaker(1, time.Minute, nil)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such subscription: 'sub_x'"}}`)
	}, breaker)

	err := c.CancelAtPeriodEnd(context.Background(), "sub_x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, processor.ErrCircuitOpen))
	assert.Equal(t, processor.StateClosed, breaker.State())
}
