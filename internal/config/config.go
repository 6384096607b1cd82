// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/webhook"
)

// Signature schemes
const (
	SchemeHMAC   = "hmac-sha256"
	SchemeStripe = "stripe"
)

// Ledger backends
const (
	LedgerPostgres  = "postgres"
	LedgerRedis     = "redis"
	LedgerFirestore = "firestore"
	LedgerMemory    = "memory"
)

// Processor clients
const (
	ProcessorREST   = "rest"
	ProcessorStripe = "stripe"
)

// Config is the full service configuration.
type Config struct {
	HTTPAddr    string `validate:"required"`
	WebhookPath string `validate:"required,startswith=/"`

	WebhookSecret   string `validate:"required"`
	SignatureScheme string `validate:"oneof=hmac-sha256 stripe"`
	SignatureHeader string
	EventIDHeader   string `validate:"required"`
	EventAliases    map[string]webhook.Kind

	DatabaseURL        string `validate:"required_unless=LedgerBackend memory"`
	AutoMigrate        bool
	EventRetention     time.Duration `validate:"gte=0"`
	LedgerBackend      string        `validate:"oneof=postgres redis firestore memory"`
	RedisURL           string        `validate:"required_if=LedgerBackend redis"`
	FirestoreProjectID string        `validate:"required_if=LedgerBackend firestore"`

	// Processor is empty when no outbound client is configured; the engine
	// then runs without enrichment and checkout is disabled.
	Processor        string `validate:"omitempty,oneof=rest stripe"`
	ProcessorBaseURL string `validate:"omitempty,url"`
	ProcessorAPIKey  string
	ProcessorTimeout time.Duration `validate:"gt=0"`
	BreakerThreshold int           `validate:"gte=0"`
	BreakerReset     time.Duration `validate:"gte=0"`

	Products          map[entitlement.PlanType]string
	CheckoutReturnURL string `validate:"omitempty,url"`

	RateLimitRequests int           `validate:"gte=0"`
	RateLimitWindow   time.Duration `validate:"gt=0"`

	LogLevel         string `validate:"oneof=trace debug info warn error"`
	LogFormat        string `validate:"oneof=json console"`
	MetricsNamespace string `validate:"required"`
}

// Lookup resolves one configuration key.
type Lookup func(key string) (string, bool)

// Load reads the .env file named by ENV_FILE (default ".env") when it exists,
// then the process environment, which takes precedence.
func Load() (*Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}

	file := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		if file, err = godotenv.Read(path); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return LoadFrom(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	})
}

// LoadFrom builds and validates a Config from lookup.
func LoadFrom(lookup Lookup) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		HTTPAddr:           r.str("HTTP_ADDR", ":8080"),
		WebhookPath:        r.str("WEBHOOK_PATH", "/webhooks/payments"),
		WebhookSecret:      r.str("WEBHOOK_SECRET", ""),
		SignatureScheme:    strings.ToLower(r.str("SIGNATURE_SCHEME", SchemeHMAC)),
		SignatureHeader:    r.str("SIGNATURE_HEADER", ""),
		EventIDHeader:      r.str("EVENT_ID_HEADER", webhook.DefaultEventIDHeader),
		DatabaseURL:        r.str("DATABASE_URL", ""),
		AutoMigrate:        r.bool("AUTO_MIGRATE", false),
		EventRetention:     r.duration("EVENT_RETENTION", 0),
		LedgerBackend:      strings.ToLower(r.str("LEDGER_BACKEND", LedgerPostgres)),
		RedisURL:           r.str("REDIS_URL", ""),
		FirestoreProjectID: r.str("FIRESTORE_PROJECT_ID", ""),
		Processor:          strings.ToLower(r.str("PROCESSOR", "")),
		ProcessorBaseURL:   r.str("PROCESSOR_BASE_URL", ""),
		ProcessorAPIKey:    r.str("PROCESSOR_API_KEY", ""),
		ProcessorTimeout:   r.duration("PROCESSOR_TIMEOUT", 5*time.Second),
		BreakerThreshold:   r.int("BREAKER_THRESHOLD", 5),
		BreakerReset:       r.duration("BREAKER_RESET", 30*time.Second),
		CheckoutReturnURL:  r.str("CHECKOUT_RETURN_URL", ""),
		RateLimitRequests:  r.int("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:    r.duration("RATE_LIMIT_WINDOW", time.Minute),
		LogLevel:           strings.ToLower(r.str("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(r.str("LOG_FORMAT", "json")),
		MetricsNamespace:   r.str("METRICS_NAMESPACE", "payrecon"),
	}

	cfg.Products = map[entitlement.PlanType]string{}
	if v := r.str("PRODUCT_SHOWCASE", ""); v != "" {
		cfg.Products[entitlement.PlanShowcase] = v
	}
	if v := r.str("PRODUCT_SPOTLIGHT", ""); v != "" {
		cfg.Products[entitlement.PlanSpotlight] = v
	}

	if v := r.str("EVENT_ALIASES", ""); v != "" {
		aliases, err := webhook.ParseAliases(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("EVENT_ALIASES: %w", err))
		}
		cfg.EventAliases = aliases
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Processor == ProcessorREST && c.ProcessorBaseURL == "" {
		return errors.New("invalid configuration: PROCESSOR_BASE_URL is required for the rest processor")
	}
	if c.Processor != "" && c.ProcessorAPIKey == "" {
		return errors.New("invalid configuration: PROCESSOR_API_KEY is required when PROCESSOR is set")
	}
	return nil
}

// CheckoutEnabled reports whether checkout sessions can be created.
func (c *Config) CheckoutEnabled() bool {
	return c.Processor != "" && len(c.Products) > 0
}

type reader struct {
	lookup Lookup
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
