package gocredits

import "context"

// Storage persists entitlement states and the payment ledger. The two live
// behind one interface because the order and refund paths mutate both in a
// single backend transaction.
//
// Atomicity contract: UpdateState, RecordOrder and ApplyRefund each run
// their mutate function inside an atomic read-modify-write scoped to one
// user's state (row lock, optimistic retry, or equivalent). Events for
// different users must not contend on a shared lock. The ledger's
// uniqueness constraint on OrderID is the sole cross-request guard against
// double-crediting concurrent deliveries of the same order.
type Storage interface {
	// GetState retrieves a user's entitlement state.
	// Returns ErrStateNotFound when the user has none.
	GetState(ctx context.Context, userID string) (*State, error)

	// UpdateState atomically applies mutate to the user's current state and
	// persists the result. A missing state starts as the zero state
	// (free, inactive, 0 credits). An error from mutate aborts the update
	// and is returned unchanged.
	UpdateState(ctx context.Context, userID string, mutate func(*State) error) (*State, error)

	// HasProcessed reports whether a ledger entry exists for the order id.
	HasProcessed(ctx context.Context, orderID string) (bool, error)

	// GetLedgerEntry retrieves a ledger entry by order id.
	// Returns ErrOrderNotFound when none exists.
	GetLedgerEntry(ctx context.Context, orderID string) (*LedgerEntry, error)

	// RecordOrder atomically appends a paid ledger entry and applies mutate
	// to the entry's user state. When an entry for entry.OrderID already
	// exists it returns ErrDuplicateOrder and leaves both the ledger and
	// the state untouched.
	RecordOrder(ctx context.Context, entry *LedgerEntry, mutate func(*State) error) (*State, error)

	// ApplyRefund atomically transitions the order's paid ledger entry to
	// refunded (when one exists) and applies mutate to the user's state.
	// mutate receives found=false when no paid entry matched; the state
	// mutation still runs so the downgrade applies either way.
	ApplyRefund(ctx context.Context, orderID, userID string, mutate func(s *State, found bool) error) (*State, error)
}
