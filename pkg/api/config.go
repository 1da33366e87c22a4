package api

import (
	"fmt"
	"net/http"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// Config holds configuration for the entitlement API handler.
type Config struct {
	// Processor is the billing event processor (required).
	Processor *gocredits.Processor

	// GetUserID extracts user ID from HTTP request (required).
	// Similar to middleware/http pattern.
	GetUserID func(*http.Request) string

	// GetOrderID extracts the order ID for ledger lookups.
	// If nil, reads the "order_id" query parameter.
	GetOrderID func(*http.Request) string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling.
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Processor == nil {
		return fmt.Errorf("processor is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new entitlement API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetOrderID == nil {
		config.GetOrderID = func(r *http.Request) string {
			return r.URL.Query().Get("order_id")
		}
	}
	return &Handler{config: config}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context.
// Uses the same context key pattern as middleware/http.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
