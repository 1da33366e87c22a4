package billing

import (
	"time"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// WebhookEvent describes one successfully processed webhook delivery. It is
// passed to the WebhookCallback after the entitlement transition has been
// committed to storage.
type WebhookEvent struct {
	// Provider is the billing provider name ("polar").
	Provider string

	// EventType is the provider-specific event type
	// ("order.paid", "customer.state_changed", "order.refunded").
	EventType string

	// UserID is the internal user identifier (empty for no-user events).
	UserID string

	// OrderID is the provider order id, when the event carried one.
	OrderID string

	// Outcome is the processor's disposition of the event.
	Outcome gocredits.Outcome

	// Plan is the plan after processing (empty when state was untouched).
	Plan string

	// GrantedCredits and ReclaimedCredits are the credit deltas applied.
	GrantedCredits   int
	ReclaimedCredits int

	// Verified reports whether the delivery passed signature verification.
	Verified bool

	// OccurredAt is when the event occurred at the provider.
	OccurredAt time.Time
}
