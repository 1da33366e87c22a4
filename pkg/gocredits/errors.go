package gocredits

import "errors"

var (
	// ErrDuplicateOrder is returned when a ledger entry already exists for
	// an order id. Callers treat it as "already processed", not a failure.
	ErrDuplicateOrder = errors.New("order already processed")

	// ErrOrderNotFound is returned when a refund references an order that
	// was never recorded as paid.
	ErrOrderNotFound = errors.New("order not found in ledger")

	// ErrStateNotFound is returned when a user has no entitlement state.
	ErrStateNotFound = errors.New("entitlement state not found")

	// ErrInsufficientCredits is returned when a consume would drive the
	// balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrInvalidAmount is returned for negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownProduct is returned when a product id is not in the catalog.
	ErrUnknownProduct = errors.New("product not in catalog")

	// ErrStoreUnavailable wraps persistence failures. Events failing with
	// it were not durably committed and are safe for the provider to retry.
	ErrStoreUnavailable = errors.New("storage unavailable")
)
