// Package polar implements the billing.Provider interface for Polar
// (polar.sh). The webhook handler verifies Standard-Webhooks signatures,
// normalizes order and customer-state payloads into gocredits events and
// applies them through the processor.
package polar

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
	"github.com/thumbsmith/gocredits/pkg/billing/internal"
	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

const (
	providerName      = "polar"
	productionBaseURL = "https://api.polar.sh"
	// SandboxBaseURL is Polar's sandbox environment, for Config.APIBaseURL.
	SandboxBaseURL = "https://sandbox-api.polar.sh"

	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024
)

// Provider implements the billing.Provider interface for Polar.
type Provider struct {
	processor       *gocredits.Processor
	verifier        *verifier
	httpClient      *http.Client
	rateLimiter     *internal.RateLimiter
	logger          gocredits.Logger
	metrics         billing.Metrics
	callback        billing.WebhookCallback
	allowUnverified bool
	accessToken     string
	apiBaseURL      string
	successURL      string
}

// NewProvider creates a new Polar billing provider.
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Processor == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var v *verifier
	if secret := strings.TrimSpace(config.WebhookSecret); secret != "" {
		var err error
		v, err = newVerifier(secret)
		if err != nil {
			return nil, err
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &gocredits.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	apiBaseURL := strings.TrimRight(config.APIBaseURL, "/")
	if apiBaseURL == "" {
		apiBaseURL = productionBaseURL
	}

	return &Provider{
		processor:       config.Processor,
		verifier:        v,
		httpClient:      httpClient,
		rateLimiter:     internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		logger:          logger,
		metrics:         metrics,
		callback:        config.WebhookCallback,
		allowUnverified: config.AllowUnverified,
		accessToken:     strings.TrimSpace(config.AccessToken),
		apiBaseURL:      apiBaseURL,
		successURL:      config.SuccessURL,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Polar webhooks.
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// SyncUser reconciles a user's plan and status from the Polar customer
// state API.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	return p.syncUserFromAPI(ctx, userID)
}
