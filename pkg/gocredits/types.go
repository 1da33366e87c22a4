package gocredits

import "time"

// EventType classifies a normalized payment-provider event.
type EventType string

const (
	// EventOrderPaid is emitted on every successful payment (initial and renewal).
	EventOrderPaid EventType = "order.paid"
	// EventCustomerStateChanged is the provider's authoritative resync of the
	// customer's subscription set.
	EventCustomerStateChanged EventType = "customer.state_changed"
	// EventOrderRefunded is emitted when a previously paid order is refunded.
	EventOrderRefunded EventType = "order.refunded"
	// EventUnknown covers every event type the processor does not act on.
	EventUnknown EventType = "unknown"
)

// Status is a user's subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusInactive Status = "inactive"
)

// LedgerStatus is the lifecycle status of a ledger entry.
type LedgerStatus string

const (
	LedgerPaid     LedgerStatus = "paid"
	LedgerRefunded LedgerStatus = "refunded"
)

// State is a user's entitlement: credit balance, plan tier and subscription
// status. It is owned by the Storage and mutated only through the atomic
// update operations, so Credits never goes below zero.
type State struct {
	UserID string

	// Credits is the remaining usage credit balance.
	Credits int

	// Plan is the current plan name (e.g. "free", "pro", "ultra").
	Plan string

	// Status is the subscription status for the current plan.
	Status Status

	// CustomerID is the billing provider's customer id, recorded on first
	// payment. Empty until known.
	CustomerID string

	UpdatedAt time.Time
}

// LedgerEntry is the append-only record of a processed payment order.
// OrderID is the natural dedup key: at most one paid entry per order, ever.
// Entries are never deleted; a refund transitions Status to LedgerRefunded.
type LedgerEntry struct {
	OrderID  string
	UserID   string
	Amount   int64
	Currency string
	Status   LedgerStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SubscriptionSnapshot is one subscription from a customer-state event.
type SubscriptionSnapshot struct {
	ProductID string
	Status    Status

	// EndedAt is non-nil when the subscription has terminated. Ended
	// subscriptions never count towards plan resolution.
	EndedAt *time.Time
}

// PaymentEvent is the canonical record produced by a provider's normalizer.
// It is immutable once built and discarded after processing.
type PaymentEvent struct {
	// ID is the provider's event id (audit only, not the dedup key).
	ID string

	Type EventType

	// UserID is the internal user id, or empty when the provider payload
	// carried no resolvable user. Empty-user events are processed as no-ops.
	UserID string

	// OrderID is the provider's order id, the idempotency key for
	// EventOrderPaid and EventOrderRefunded.
	OrderID string

	ProductID  string
	CustomerID string

	Amount   int64
	Currency string

	// Subscriptions is the full set of the customer's subscriptions, only
	// populated on EventCustomerStateChanged.
	Subscriptions []SubscriptionSnapshot

	// Verified reports whether the event passed signature verification.
	// Unverified events only reach the processor when the provider is
	// explicitly configured to accept them.
	Verified bool

	OccurredAt time.Time
}

// Outcome classifies how the processor disposed of an event. Swallowed
// no-ops keep a distinct outcome so the boundary can log them apart from
// real state changes.
type Outcome string

const (
	// OutcomeApplied means the entitlement state was mutated.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the order was already in the ledger; nothing
	// was granted.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoUser means no user id could be resolved from the event.
	OutcomeNoUser Outcome = "no_user"
	// OutcomeIgnored means the event type or product carries no entitlement
	// effect.
	OutcomeIgnored Outcome = "ignored"
)

// Result describes the effect of processing a single event.
type Result struct {
	Outcome Outcome

	// State is the entitlement state after processing. Nil unless the
	// outcome is OutcomeApplied.
	State *State

	// Granted is the number of credits added by an order (after any
	// upgrade proration).
	Granted int

	// Reclaimed is the number of credits removed by a refund (after the
	// zero clamp).
	Reclaimed int
}
