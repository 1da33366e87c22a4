package billing

import (
	"context"
	"net/http"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// WebhookCallback is invoked after an event has been durably applied,
// with the processing result. Returning an error fails the webhook call so
// the provider redelivers it.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers accept.
type Config struct {
	// Processor is the gocredits processor that events are applied to
	// (required).
	Processor *gocredits.Processor

	// WebhookSecret verifies inbound webhook deliveries. For Polar this is
	// the Standard-Webhooks secret ("whsec_..." or raw base64).
	WebhookSecret string

	// AllowUnverified processes events whose signature does not verify,
	// marking them unverified and logging a warning, instead of rejecting
	// with 401. Compatibility escape hatch only; leave off in production.
	AllowUnverified bool

	// AccessToken authenticates outbound API calls to the provider
	// (checkout sessions, customer state sync).
	AccessToken string

	// APIBaseURL overrides the provider's API endpoint, e.g. to point at a
	// sandbox environment or a test server. Empty uses the production API.
	APIBaseURL string

	// SuccessURL is the redirect target appended to checkout sessions.
	SuccessURL string

	// HTTPClient is an optional client for API calls. If nil, a default
	// client with a 10s timeout is used.
	HTTPClient *http.Client

	// Logger receives provider logs. Defaults to the processor's noop.
	Logger gocredits.Logger

	// Metrics is an optional collector for webhook and API call metrics.
	// If nil, metrics are silently ignored.
	// Use billing/metrics/prometheus.NewMetrics for Prometheus metrics.
	Metrics Metrics

	// WebhookCallback is an optional hook invoked after each successfully
	// applied event.
	WebhookCallback WebhookCallback
}
