package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is missing
	// required configuration.
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature
	// verification fails.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a webhook payload cannot be
	// parsed.
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrCustomerNotFound is returned when a customer cannot be resolved in
	// the provider's system.
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrProviderAPIError is returned when the provider's API returns an
	// error.
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrNotSupported is returned when a provider doesn't support an
	// operation.
	ErrNotSupported = errors.New("operation not supported by this provider")
)
