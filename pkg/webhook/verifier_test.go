package webhook

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHMACVerifier_RequiresSecret(t *testing.T) {
	_, err := NewHMACVerifier("", "")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestHMACVerifier_Verify(t *testing.T) {
	v, err := NewHMACVerifier("whsec_test", "")
	require.NoError(t, err)

	body := []byte(`{"type":"payment.succeeded"}`)
	sig := v.Sign(body)

	tests := []struct {
		name    string
		header  string
		body    []byte
		wantErr bool
	}{
		{"valid", sig, body, false},
		{"upper case hex", strings.ToUpper(sig), body, false},
		{"sha256 prefix", "sha256=" + sig, body, false},
		{"missing", "", body, true},
		{"tampered body", sig, []byte(`{"type":"payment.succeeded" }`), true},
		{"wrong signature", strings.Repeat("0", 64), body, true},
		{"truncated", sig[:32], body, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set(DefaultSignatureHeader, tt.header)
			}
			err := v.Verify(tt.body, h)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignature)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHMACVerifier_CustomHeader(t *testing.T) {
	v, err := NewHMACVerifier("secret", "Webhook-Signature")
	require.NoError(t, err)
	assert.Equal(t, "Webhook-Signature", v.Header())

	body := []byte(`{}`)
	h := http.Header{}
	h.Set("Webhook-Signature", v.Sign(body))
	assert.NoError(t, v.Verify(body, h))

	h = http.Header{}
	h.Set(DefaultSignatureHeader, v.Sign(body))
	assert.ErrorIs(t, v.Verify(body, h), ErrInvalidSignature)
}

func TestHMACVerifier_DifferentSecrets(t *testing.T) {
	a, _ := NewHMACVerifier("secret-a", "")
	b, _ := NewHMACVerifier("secret-b", "")

	body := []byte(`{"id":"evt_1"}`)
	h := http.Header{}
	h.Set(DefaultSignatureHeader, a.Sign(body))
	assert.ErrorIs(t, b.Verify(body, h), ErrInvalidSignature)
}
