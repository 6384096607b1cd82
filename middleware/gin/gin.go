// Package gin mounts the payment webhook endpoint on a Gin router
package gin

import (
	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

// ClientIPExtractor returns the client address used for rate limiting
type ClientIPExtractor func(c *gongin.Context) string

// Config holds adapter configuration
type Config struct {
	// Handler is the webhook handler (required)
	Handler *webhook.Handler

	// GetClientIP defaults to c.ClientIP(), which honours Gin's trusted proxies
	GetClientIP ClientIPExtractor
}

// Webhook returns a Gin handler that verifies and processes webhook deliveries.
// The raw body is read before any binding so the signature covers exact bytes.
func Webhook(cfg Config) gongin.HandlerFunc {
	if cfg.Handler == nil {
		panic("payrecon/gin: Config.Handler is required")
	}
	if cfg.GetClientIP == nil {
		cfg.GetClientIP = func(c *gongin.Context) string { return c.ClientIP() }
	}

	h := cfg.Handler
	return func(c *gongin.Context) {
		httputil.SetSecurityHeaders(c.Writer)

		if !h.Allow(cfg.GetClientIP(c)) {
			abort(c, h.RateLimited())
			return
		}

		body, err := httputil.ReadBodyStrict(c.Writer, c.Request, h.MaxBodyBytes())
		if err != nil {
			abort(c, h.ReadError(err))
			return
		}

		resp := h.Handle(c.Request.Context(), body, c.Request.Header)
		c.JSON(resp.Code, resp.Body)
	}
}

func abort(c *gongin.Context, resp webhook.Response) {
	c.AbortWithStatusJSON(resp.Code, resp.Body)
}
