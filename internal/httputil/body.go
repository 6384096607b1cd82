// Package httputil holds the small HTTP helpers shared by the webhook and
// checkout handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxWebhookBody is the default cap on inbound webhook bodies.
const MaxWebhookBody = 256 * 1024

var (
	// ErrPayloadTooLarge is returned when the request body exceeds the size limit
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyBody is returned for requests without a body
	ErrEmptyBody = errors.New("empty body")
)

// ReadBodyStrict reads the exact request bytes and rejects empty bodies.
// The size limit guards against memory exhaustion.
func ReadBodyStrict(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyBody
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	return readLimited(r.Body, limit)
}

// ReadLimited reads at most limit bytes from rd. Used by framework adapters
// that do not expose an http.ResponseWriter.
func ReadLimited(rd io.Reader, limit int64) ([]byte, error) {
	if rd == nil {
		return nil, ErrEmptyBody
	}
	// one extra byte distinguishes "exactly limit" from "over limit"
	body, err := readLimited(io.LimitReader(rd, limit+1), limit)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
	}
	return body, nil
}

func readLimited(rd io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(rd)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// WriteJSON writes a JSON response with proper headers
func WriteJSON(w http.ResponseWriter, code int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": msg} with the given status code.
func WriteError(w http.ResponseWriter, code int, msg string) {
	_ = WriteJSON(w, code, map[string]string{"error": msg})
}

// SetSecurityHeaders sets the headers every API response carries.
func SetSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
}
