package stripe

import (
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v83/webhook"

	payhook "github.com/mihaimyh/payrecon/pkg/webhook"
)

// SignatureHeader is the header Stripe signs deliveries with.
const SignatureHeader = "Stripe-Signature"

// SignatureVerifier checks Stripe's timestamped signature scheme.
type SignatureVerifier struct {
	secret string
}

var _ payhook.Verifier = (*SignatureVerifier)(nil)

// NewSignatureVerifier creates a verifier for a Stripe endpoint secret.
func NewSignatureVerifier(secret string) (*SignatureVerifier, error) {
	if secret == "" {
		return nil, payhook.ErrSecretNotConfigured
	}
	return &SignatureVerifier{secret: secret}, nil
}

// Verify implements webhook.Verifier.
func (v *SignatureVerifier) Verify(body []byte, header http.Header) error {
	sig := header.Get(SignatureHeader)
	if sig == "" {
		return payhook.ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(body, sig, v.secret); err != nil {
		return fmt.Errorf("%w: %v", payhook.ErrInvalidSignature, err)
	}
	return nil
}
