package echo

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/internal/webhooktest"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

func setupEcho(f *webhooktest.Fixture) *echo.Echo {
	e := echo.New()
	e.POST("/webhooks/payments", Webhook(Config{Handler: f.Handler}))
	return e
}

func post(e *echo.Echo, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(webhook.DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_Applies(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{})
	e := setupEcho(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Showcase")
	rec := post(e, body, f.Verifier.Sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"status":"applied"}`, rec.Body.String())
	assert.Equal(t, entitlement.PlanShowcase, f.Project(t).PlanType)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestWebhook_Rejections(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{MaxBodyBytes: 64})
	e := setupEcho(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Spotlight")
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(e, body, f.Verifier.Sign(body)).Code)
	assert.Equal(t, http.StatusUnauthorized, post(e, []byte(`{"type":"x"}`), "").Code)
	assert.Zero(t, f.Store.ClaimCount())
}

func TestWebhook_RateLimited(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{RateLimiter: httputil.NewRateLimiter(1, time.Minute)})
	e := setupEcho(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Showcase")
	assert.Equal(t, http.StatusOK, post(e, body, f.Verifier.Sign(body)).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(e, body, f.Verifier.Sign(body)).Code)
}

func TestWebhook_RequiresHandler(t *testing.T) {
	assert.Panics(t, func() { Webhook(Config{}) })
}
