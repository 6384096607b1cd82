// Package fiber mounts the payment webhook endpoint on a Fiber app
package fiber

import (
	"bytes"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

// ClientIPExtractor returns the client address used for rate limiting
type ClientIPExtractor func(c *fiber.Ctx) string

// Config holds adapter configuration
type Config struct {
	// Handler is the webhook handler (required)
	Handler *webhook.Handler

	// GetClientIP defaults to c.IP()
	GetClientIP ClientIPExtractor
}

// Webhook returns a Fiber handler that verifies and processes webhook deliveries.
// Fiber buffers the body itself, so the app's BodyLimit should not be lower
// than the handler's MaxBodyBytes.
func Webhook(cfg Config) fiber.Handler {
	if cfg.Handler == nil {
		panic("payrecon/fiber: Config.Handler is required")
	}
	if cfg.GetClientIP == nil {
		cfg.GetClientIP = func(c *fiber.Ctx) string { return c.IP() }
	}

	h := cfg.Handler
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Cache-Control", "no-store")

		if !h.Allow(cfg.GetClientIP(c)) {
			return reply(c, h.RateLimited())
		}

		// ReadLimited copies, so the body outlives fasthttp's request buffer
		body, err := httputil.ReadLimited(bytes.NewReader(c.Body()), h.MaxBodyBytes())
		if err != nil {
			return reply(c, h.ReadError(err))
		}

		return reply(c, h.Handle(c.UserContext(), body, requestHeader(c)))
	}
}

func requestHeader(c *fiber.Ctx) http.Header {
	header := make(http.Header)
	for name, values := range c.GetReqHeaders() {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	return header
}

func reply(c *fiber.Ctx, resp webhook.Response) error {
	return c.Status(resp.Code).JSON(resp.Body)
}
