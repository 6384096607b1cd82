// Package webhooktest builds signed webhook fixtures for adapter tests.
package webhooktest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/payrecon/internal/httputil"
	"github.com/mihaimyh/payrecon/pkg/entitlement"
	"github.com/mihaimyh/payrecon/pkg/webhook"
	"github.com/mihaimyh/payrecon/storage/memory"
)

// Secret signs every fixture.
const Secret = "whsec_fixture"

// Fixture bundles a ready webhook handler with its backing store.
type Fixture struct {
	Handler  *webhook.Handler
	Verifier *webhook.HMACVerifier
	Store    *memory.Storage
}

// Options tweaks the fixture handler.
type Options struct {
	RateLimiter  *httputil.RateLimiter
	MaxBodyBytes int64
}

// New creates a Fixture whose store holds project 42 owned by "u1".
func New(t *testing.T, opts Options) *Fixture {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.CreateProject(context.Background(), entitlement.NewProject(42, "u1")))

	verifier, err := webhook.NewHMACVerifier(Secret, "")
	require.NoError(t, err)

	engine, err := webhook.NewEngine(webhook.Config{Store: store})
	require.NoError(t, err)

	h, err := webhook.NewHandler(engine, webhook.HandlerConfig{
		Verifier:     verifier,
		RateLimiter:  opts.RateLimiter,
		MaxBodyBytes: opts.MaxBodyBytes,
	})
	require.NoError(t, err)

	return &Fixture{Handler: h, Verifier: verifier, Store: store}
}

// PaymentSucceeded returns a payment event upgrading project 42 to plan.
func PaymentSucceeded(t *testing.T, eventID, plan string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"type": "payment.succeeded",
		"id":   eventID,
		"data": map[string]interface{}{
			"payment_id":      "pay_" + eventID,
			"subscription_id": "sub_1",
			"metadata": map[string]interface{}{
				"user_id":    "u1",
				"project_id": "42",
				"plan_type":  plan,
			},
		},
	})
	require.NoError(t, err)
	return body
}

// Project returns the current state of project 42.
func (f *Fixture) Project(t *testing.T) *entitlement.Project {
	t.Helper()
	p, err := f.Store.GetProject(context.Background(), 42)
	require.NoError(t, err)
	return p
}
