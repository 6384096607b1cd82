package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/payrecon/pkg/entitlement"
)

// Config holds configuration for the entitlements API handler
type Config struct {
	// Store reads project rows (required)
	Store entitlement.ProjectStore

	// GetUserID extracts the caller from the HTTP request (required)
	GetUserID func(*http.Request) string

	// GetProjectID extracts the project id from the HTTP request (required)
	GetProjectID func(*http.Request) (int64, error)

	// OnError handles errors (auth, not found, internal)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error, int)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	if c.GetProjectID == nil {
		return fmt.Errorf("getProjectID is required")
	}
	return nil
}

// NewHandler creates a new entitlements API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromURLParam returns a GetProjectID function reading a chi route parameter
func FromURLParam(name string) func(*http.Request) (int64, error) {
	return func(r *http.Request) (int64, error) {
		id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid project id %q", chi.URLParam(r, name))
		}
		return id, nil
	}
}
