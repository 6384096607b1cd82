// Package echo mounts the payment webhook endpoint on an Echo router
package echo

import (
	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

// ClientIPExtractor returns the client address used for rate limiting
type ClientIPExtractor func(c echo.Context) string

// Config holds adapter configuration
type Config struct {
	// Handler is the webhook handler (required)
	Handler *webhook.Handler

	// GetClientIP defaults to c.RealIP()
	GetClientIP ClientIPExtractor
}

// Webhook returns an Echo handler that verifies and processes webhook deliveries
func Webhook(cfg Config) echo.HandlerFunc {
	if cfg.Handler == nil {
		panic("payrecon/echo: Config.Handler is required")
	}
	if cfg.GetClientIP == nil {
		cfg.GetClientIP = func(c echo.Context) string { return c.RealIP() }
	}

	h := cfg.Handler
	return func(c echo.Context) error {
		httputil.SetSecurityHeaders(c.Response())

		if !h.Allow(cfg.GetClientIP(c)) {
			return reply(c, h.RateLimited())
		}

		body, err := httputil.ReadBodyStrict(c.Response(), c.Request(), h.MaxBodyBytes())
		if err != nil {
			return reply(c, h.ReadError(err))
		}

		return reply(c, h.Handle(c.Request().Context(), body, c.Request().Header))
	}
}

func reply(c echo.Context, resp webhook.Response) error {
	return c.JSON(resp.Code, resp.Body)
}
