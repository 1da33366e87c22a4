package polar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
)

type checkoutRequest struct {
	Products           []string          `json:"products"`
	ExternalCustomerID string            `json:"external_customer_id,omitempty"`
	CustomerEmail      string            `json:"customer_email,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	SuccessURL         string            `json:"success_url,omitempty"`
}

type checkoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type customerSessionRequest struct {
	ExternalCustomerID string `json:"external_customer_id"`
}

type customerSessionResponse struct {
	CustomerPortalURL string `json:"customer_portal_url"`
}

// CheckoutURL creates a Polar checkout session for a product and returns
// the redirect URL. The user id travels both as the external customer id
// and in metadata so the webhook handler can resolve it from either place.
func (p *Provider) CheckoutURL(ctx context.Context, userID, productID, customerEmail string) (string, error) {
	if userID == "" || productID == "" {
		return "", fmt.Errorf("user id and product id are required")
	}

	req := checkoutRequest{
		Products:           []string{productID},
		ExternalCustomerID: userID,
		CustomerEmail:      customerEmail,
		Metadata:           map[string]string{"userId": userID},
		SuccessURL:         p.successURL,
	}

	var res checkoutResponse
	if err := p.apiPost(ctx, "/v1/checkouts", req, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", fmt.Errorf("%w: checkout session has no url", billing.ErrProviderAPIError)
	}
	return res.URL, nil
}

// PortalURL creates a customer portal session so the user can manage or
// cancel their subscription, and returns the portal URL.
func (p *Provider) PortalURL(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	var res customerSessionResponse
	err := p.apiPost(ctx, "/v1/customer-sessions", customerSessionRequest{ExternalCustomerID: userID}, &res)
	if err != nil {
		return "", err
	}
	if res.CustomerPortalURL == "" {
		return "", fmt.Errorf("%w: customer session has no portal url", billing.ErrProviderAPIError)
	}
	return res.CustomerPortalURL, nil
}

// apiPost issues an authenticated POST to the Polar API and decodes the
// JSON response into out.
func (p *Provider) apiPost(ctx context.Context, endpoint string, payload, out interface{}) error {
	startTime := time.Now()
	defer func() {
		p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(startTime))
	}()

	if p.accessToken == "" {
		p.metrics.RecordAPICall(providerName, endpoint, "not_configured")
		return fmt.Errorf("%w: access token required for API calls", billing.ErrProviderNotConfigured)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return fmt.Errorf("failed to read response: %w", err)
	}

	p.metrics.RecordAPICall(providerName, endpoint, fmt.Sprintf("%d", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", billing.ErrProviderAPIError, res.StatusCode, string(resBody))
	}

	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
