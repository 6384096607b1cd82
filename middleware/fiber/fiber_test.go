package fiber

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/internal/webhooktest"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

func setupApp(f *webhooktest.Fixture) *fiber.App {
	app := fiber.New()
	app.Post("/webhooks/payments", Webhook(Config{Handler: f.Handler}))
	return app
}

func post(t *testing.T, app *fiber.App, body []byte, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(webhook.DefaultSignatureHeader, signature)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestWebhook_Applies(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{})
	app := setupApp(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Spotlight")
	code, resp := post(t, app, body, f.Verifier.Sign(body))

	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"received":true,"status":"applied"}`, resp)
	assert.Equal(t, entitlement.PlanSpotlight, f.Project(t).PlanType)

	code, resp = post(t, app, body, f.Verifier.Sign(body))
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"received":true,"status":"duplicate"}`, resp)
}

func TestWebhook_Rejections(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{MaxBodyBytes: 64})
	app := setupApp(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Spotlight")
	code, _ := post(t, app, body, f.Verifier.Sign(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, _ = post(t, app, []byte(`{"type":"x"}`), "0000")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = post(t, app, nil, "")
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Zero(t, f.Store.ClaimCount())
}

func TestWebhook_RateLimited(t *testing.T) {
	f := webhooktest.New(t, webhooktest.Options{RateLimiter: httputil.NewRateLimiter(1, time.Minute)})
	app := setupApp(f)

	body := webhooktest.PaymentSucceeded(t, "evt_1", "Showcase")
	code, _ := post(t, app, body, f.Verifier.Sign(body))
	assert.Equal(t, http.StatusOK, code)
	code, _ = post(t, app, body, f.Verifier.Sign(body))
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRequestHeader_Canonical(t *testing.T) {
	app := fiber.New()
	var got http.Header
	app.Post("/", func(c *fiber.Ctx) error {
		got = requestHeader(c)
		return c.SendStatus(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("x-webhook-signature", "abc")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Get(webhook.DefaultSignatureHeader))
}

func TestWebhook_RequiresHandler(t *testing.T) {
	assert.Panics(t, func() { Webhook(Config{}) })
}
