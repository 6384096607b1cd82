package webhook

import (
	"context"
	"errors"
	"net/http"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// DefaultEventIDHeader carries the processor's delivery id.
const DefaultEventIDHeader = "webhook-id"

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Verifier authenticates requests. Required.
	Verifier Verifier

	// EventIDHeader names the delivery id header. Defaults to DefaultEventIDHeader.
	EventIDHeader string

	// RateLimiter limits requests per client IP. Optional.
	RateLimiter *httputil.RateLimiter

	// MaxBodyBytes caps the request body. Defaults to httputil.MaxWebhookBody.
	MaxBodyBytes int64

	Logger  entitlement.Logger
	Metrics entitlement.Metrics
}

// Response is a framework-neutral webhook reply.
type Response struct {
	Code int
	Body interface{}
}

// Handler is the inbound webhook endpoint. It implements http.Handler and
// exposes Handle for framework adapters.
type Handler struct {
	engine        *Engine
	verifier      Verifier
	eventIDHeader string
	limiter       *httputil.RateLimiter
	maxBody       int64
	logger        entitlement.Logger
	metrics       entitlement.Metrics
}

// NewHandler creates a webhook handler around engine.
func NewHandler(engine *Engine, cfg HandlerConfig) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("webhook: engine is required")
	}
	if cfg.Verifier == nil {
		return nil, ErrSecretNotConfigured
	}
	h := &Handler{
		engine:        engine,
		verifier:      cfg.Verifier,
		eventIDHeader: cfg.EventIDHeader,
		limiter:       cfg.RateLimiter,
		maxBody:       cfg.MaxBodyBytes,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}
	if h.eventIDHeader == "" {
		h.eventIDHeader = DefaultEventIDHeader
	}
	if h.maxBody <= 0 {
		h.maxBody = httputil.MaxWebhookBody
	}
	if h.logger == nil {
		h.logger = &entitlement.NoopLogger{}
	}
	if h.metrics == nil {
		h.metrics = &entitlement.NoopMetrics{}
	}
	return h, nil
}

// MaxBodyBytes returns the body size cap.
func (h *Handler) MaxBodyBytes() int64 {
	return h.maxBody
}

// Allow applies the rate limiter to a client IP.
func (h *Handler) Allow(ip string) bool {
	if h.limiter.Allow(ip) {
		return true
	}
	h.metrics.RecordWebhookError("rate_limited")
	return false
}

// RateLimited is the reply for a rejected client.
func (h *Handler) RateLimited() Response {
	return Response{Code: http.StatusTooManyRequests, Body: errorBody("rate limit exceeded")}
}

// ReadError maps a body read failure to a reply.
func (h *Handler) ReadError(err error) Response {
	if errors.Is(err, httputil.ErrPayloadTooLarge) {
		h.metrics.RecordWebhookError("payload_too_large")
		return Response{Code: http.StatusRequestEntityTooLarge, Body: errorBody("payload too large")}
	}
	h.metrics.RecordWebhookError("invalid_payload")
	return Response{Code: http.StatusBadRequest, Body: errorBody("invalid request body")}
}

// Handle verifies and processes a raw body. body must be the exact bytes
// received; header must carry the signature.
func (h *Handler) Handle(ctx context.Context, body []byte, header http.Header) Response {
	if err := h.verifier.Verify(body, header); err != nil {
		h.logger.Warn("Webhook signature verification failed",
			entitlement.Field{Key: "error", Value: err},
		)
		h.metrics.RecordWebhookError("auth_failed")
		return Response{Code: http.StatusUnauthorized, Body: errorBody("invalid signature")}
	}

	out, err := h.engine.Process(ctx, body, header.Get(h.eventIDHeader))
	if err != nil {
		if errors.Is(err, ErrUnparseable) {
			h.logger.Warn("Unparseable webhook payload", entitlement.Field{Key: "error", Value: err})
			return Response{Code: http.StatusBadRequest, Body: errorBody("invalid payload")}
		}
		return Response{Code: http.StatusInternalServerError, Body: errorBody("processing failed")}
	}

	return Response{
		Code: http.StatusOK,
		Body: map[string]interface{}{"received": true, "status": string(out.Status)},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httputil.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.Allow(httputil.ClientIP(r)) {
		write(w, h.RateLimited())
		return
	}

	body, err := httputil.ReadBodyStrict(w, r, h.maxBody)
	if err != nil {
		write(w, h.ReadError(err))
		return
	}

	write(w, h.Handle(r.Context(), body, r.Header))
}

func write(w http.ResponseWriter, resp Response) {
	_ = httputil.WriteJSON(w, resp.Code, resp.Body)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
