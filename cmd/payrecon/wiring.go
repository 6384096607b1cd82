package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/payrecon/internal/config"
	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/internal/server"
	"github.com/mihaimyh/payrecon/pkg/api"
	"github.com/mihaimyh/payrecon/pkg/checkout"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
	zerologadapter "github.com/mihaimyh/payrecon/pkg/entitlement/logger/zerolog"
	prommetrics "github.com/mihaimyh/payrecon/pkg/entitlement/metrics/prometheus"
	"github.com/mihaimyh/payrecon/pkg/processor"
	"github.com/mihaimyh/payrecon/pkg/processor/rest"
	stripeproc "github.com/mihaimyh/payrecon/pkg/processor/stripe"
	"github.com/mihaimyh/payrecon/pkg/webhook"
	firestoreledger "github.com/mihaimyh/payrecon/storage/firestore"
	"github.com/mihaimyh/payrecon/storage/memory"
	"github.com/mihaimyh/payrecon/storage/postgres"
	redisledger "github.com/mihaimyh/payrecon/storage/redis"
)

// app holds the assembled service and whatever must be closed on exit.
type app struct {
	Handler http.Handler
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "payrecon").Logger()
}

// build wires every component from cfg.
func build(ctx context.Context, cfg *config.Config, zl zerolog.Logger) (*app, error) {
	a := &app{}
	logger := zerologadapter.NewLogger(&zl)
	metrics := prommetrics.NewMetrics(prometheus.DefaultRegisterer, cfg.MetricsNamespace)
	checks := map[string]server.Pinger{}

	store, err := openStore(ctx, cfg, a, checks)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledger, err := openLedger(ctx, cfg, store, a, checks)
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := newProcessorClient(cfg, logger, metrics)
	if err != nil {
		a.Close()
		return nil, err
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	engineCfg := webhook.Config{
		Store:      store,
		Ledger:     ledger,
		LedgerName: cfg.LedgerBackend,
		Classifier: webhook.NewClassifier(cfg.EventAliases),
		Logger:     logger,
		Metrics:    metrics,
	}
	if client != nil {
		engineCfg.Reconciler = client
	}
	engine, err := webhook.NewEngine(engineCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	webhookHandler, err := webhook.NewHandler(engine, webhook.HandlerConfig{
		Verifier:      verifier,
		EventIDHeader: cfg.EventIDHeader,
		RateLimiter:   httputil.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	entitlements, err := api.NewHandler(api.Config{
		Store:        store,
		GetUserID:    api.FromHeader(checkout.UserIDHeader),
		GetProjectID: api.FromURLParam("projectID"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	srvCfg := server.Config{
		WebhookPath:  cfg.WebhookPath,
		Webhook:      webhookHandler,
		Entitlements: entitlements,
		Checks:       checks,
		Logger:       zl,
	}

	if cfg.CheckoutEnabled() {
		svc, err := checkout.NewService(checkout.Config{
			Store:     store,
			Checkout:  client,
			Canceller: client,
			Products:  cfg.Products,
			ReturnURL: cfg.CheckoutReturnURL,
			Logger:    logger,
			Metrics:   metrics,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		srvCfg.Checkout = checkout.NewHandler(svc)
	}

	handler, err := server.New(srvCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Handler = handler

	zl.Info().
		Str("ledger", cfg.LedgerBackend).
		Str("processor", valueOr(cfg.Processor, "none")).
		Str("signature_scheme", cfg.SignatureScheme).
		Bool("atomic_apply", engine.Atomic()).
		Bool("checkout", cfg.CheckoutEnabled()).
		Msg("Service configured")
	return a, nil
}

// projectStore is what the engine, checkout and API need from storage.
type projectStore interface {
	entitlement.ProjectStore
	entitlement.Ledger
}

func openStore(ctx context.Context, cfg *config.Config, a *app, checks map[string]server.Pinger) (projectStore, error) {
	if cfg.LedgerBackend == config.LedgerMemory && cfg.DatabaseURL == "" {
		return memory.New(), nil
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(cfg.DatabaseURL, postgres.Up); err != nil {
			return nil, err
		}
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.ConnectionString = cfg.DatabaseURL
	pgCfg.EventRetention = cfg.EventRetention
	store, err := postgres.New(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	checks["postgres"] = store
	return store, nil
}

func openLedger(
	ctx context.Context, cfg *config.Config, store projectStore, a *app, checks map[string]server.Pinger,
) (entitlement.Ledger, error) {
	switch cfg.LedgerBackend {
	case config.LedgerRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = client.Close() })

		ledger, err := redisledger.New(client, redisledger.DefaultConfig())
		if err != nil {
			return nil, err
		}
		checks["redis"] = ledger
		return ledger, nil

	case config.LedgerFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })

		ledger, err := firestoreledger.New(client, firestoreledger.Config{})
		if err != nil {
			return nil, err
		}
		checks["firestore"] = ledger
		return ledger, nil

	default:
		// postgres and memory keep the ledger next to the projects
		return store, nil
	}
}

func newProcessorClient(cfg *config.Config, logger entitlement.Logger, metrics entitlement.Metrics) (processor.Client, error) {
	if cfg.Processor == "" {
		return nil, nil
	}

	breaker := processor.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset, func(state processor.BreakerState) {
		metrics.RecordCircuitBreakerStateChange(cfg.Processor, string(state))
		logger.Warn("Processor circuit breaker state changed",
			entitlement.Field{Key: "processor", Value: cfg.Processor},
			entitlement.Field{Key: "state", Value: string(state)},
		)
	})

	switch cfg.Processor {
	case config.ProcessorStripe:
		return stripeproc.New(stripeproc.Config{
			APIKey:     cfg.ProcessorAPIKey,
			BackendURL: cfg.ProcessorBaseURL,
			Timeout:    cfg.ProcessorTimeout,
			Breaker:    breaker,
			Logger:     logger,
			Metrics:    metrics,
		})
	default:
		return rest.New(rest.Config{
			BaseURL: cfg.ProcessorBaseURL,
			APIKey:  cfg.ProcessorAPIKey,
			Timeout: cfg.ProcessorTimeout,
			Breaker: breaker,
			Logger:  logger,
			Metrics: metrics,
		})
	}
}

func newVerifier(cfg *config.Config) (webhook.Verifier, error) {
	if cfg.SignatureScheme == config.SchemeStripe {
		return stripeproc.NewSignatureVerifier(cfg.WebhookSecret)
	}
	return webhook.NewHMACVerifier(cfg.WebhookSecret, cfg.SignatureHeader)
}

func valueOr(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
