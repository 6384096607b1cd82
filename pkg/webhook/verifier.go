package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// DefaultSignatureHeader is the header carrying the hex HMAC of the body.
const DefaultSignatureHeader = "X-Webhook-Signature"

// Verifier authenticates a webhook against the exact request bytes.
type Verifier interface {
	Verify(body []byte, header http.Header) error
}

// HMACVerifier checks a hex-encoded HMAC-SHA256 of the raw body.
type HMACVerifier struct {
	secret []byte
	header string
}

// NewHMACVerifier creates a verifier for the given shared secret. headerName
// defaults to DefaultSignatureHeader.
func NewHMACVerifier(secret, headerName string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, ErrSecretNotConfigured
	}
	if headerName == "" {
		headerName = DefaultSignatureHeader
	}
	return &HMACVerifier{secret: []byte(secret), header: headerName}, nil
}

// Verify implements Verifier. The comparison is constant-time and ignores
// hex case; an optional "sha256=" prefix is accepted.
func (v *HMACVerifier) Verify(body []byte, header http.Header) error {
	sig := strings.TrimSpace(header.Get(v.header))
	if sig == "" {
		return ErrInvalidSignature
	}
	if i := strings.IndexByte(sig, '='); i >= 0 && strings.EqualFold(sig[:i], "sha256") {
		sig = sig[i+1:]
	}

	expected := v.Sign(body)
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the lower-case hex HMAC-SHA256 of body.
func (v *HMACVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns the header name the verifier reads.
func (v *HMACVerifier) Header() string {
	return v.header
}
