package billing

import (
	"context"
	"net/http"
)

// Provider is the generic interface a payment backend must implement.
// The webhook handler owns verification, normalization and processing; the
// application only mounts it and, optionally, schedules SyncUser runs.
type Provider interface {
	// Name returns the provider name (e.g. "polar").
	Name() string

	// WebhookHandler returns the HTTP handler that consumes the provider's
	// webhook deliveries and reconciles them into entitlement state.
	WebhookHandler() http.Handler

	// SyncUser forces a reconciliation of the user's plan and status from
	// the provider's API, for "restore purchases" flows or nightly jobs.
	// Returns the resolved plan name.
	SyncUser(ctx context.Context, userID string) (string, error)
}
