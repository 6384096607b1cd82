// Package server assembles the service router and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/api"
	"github.com/mihaimyh/payrecon/pkg/checkout"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires handlers into the router.
type Config struct {
	// WebhookPath is where the processor posts events. Defaults to /webhooks/payments.
	WebhookPath string

	// Webhook handles processor deliveries. Required.
	Webhook http.Handler

	// Checkout serves the checkout routes when set.
	Checkout *checkout.Handler

	// Entitlements serves GET /v1/projects/{projectID}/entitlements when set.
	Entitlements *api.Handler

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Checks are probed by /healthz.
	Checks map[string]Pinger

	Logger zerolog.Logger
}

// New builds the router.
func New(cfg Config) (http.Handler, error) {
	if cfg.Webhook == nil {
		return nil, errors.New("server: webhook handler is required")
	}
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks/payments"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(cfg.Logger))
	r.Use(middleware.Recoverer)

	// the webhook handler does its own method check so processors get a JSON 405
	r.Handle(cfg.WebhookPath, cfg.Webhook)

	if cfg.Checkout != nil {
		cfg.Checkout.Routes(r)
	}
	if cfg.Entitlements != nil {
		r.Get("/v1/projects/{projectID}/entitlements", cfg.Entitlements.GetEntitlements)
	}

	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", health(cfg.Checks))

	return r, nil
}

func health(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			_ = httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"checks": failed,
			})
			return
		}
		_ = httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// Run serves handler on addr until ctx is cancelled, then drains in-flight
// requests for up to shutdownTimeout.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
