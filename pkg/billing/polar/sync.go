package polar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thumbsmith/gocredits/pkg/billing"
	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// customerState is the Polar customer state API response: the customer
// object with its currently active subscriptions embedded. It is the same
// shape the customer.state_changed webhook carries, so sync replays it
// through the normal processing path.
type customerState struct {
	ID                  string                 `json:"id"`
	ExternalID          string                 `json:"external_id"`
	Metadata            map[string]interface{} `json:"metadata"`
	ActiveSubscriptions []rawSubscription      `json:"active_subscriptions"`
}

// syncUserFromAPI fetches the customer's state from Polar and applies it as
// a customer.state_changed event. A customer unknown to Polar resolves to
// the free plan.
func (p *Provider) syncUserFromAPI(ctx context.Context, userID string) (string, error) {
	startTime := time.Now()
	defer func() {
		p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	}()

	if p.accessToken == "" {
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("%w: access token required for sync", billing.ErrProviderNotConfigured)
	}
	if userID == "" {
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("user id is required")
	}

	endpoint := fmt.Sprintf("/v1/customers/external/%s/state", userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+endpoint, http.NoBody)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var state customerState
	switch {
	case res.StatusCode == http.StatusNotFound:
		// No Polar customer for this user: resolve to no subscriptions,
		// which downgrades the plan to free below.
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if err := json.Unmarshal(body, &state); err != nil {
			p.metrics.RecordUserSync(providerName, "error")
			return "", fmt.Errorf("failed to parse customer state: %w", err)
		}
	default:
		p.metrics.RecordUserSync(providerName, "error")
		return "", fmt.Errorf("%w: status %d: %s", billing.ErrProviderAPIError, res.StatusCode, string(body))
	}

	subs := make([]gocredits.SubscriptionSnapshot, 0, len(state.ActiveSubscriptions))
	for i := range state.ActiveSubscriptions {
		s := &state.ActiveSubscriptions[i]
		subs = append(subs, gocredits.SubscriptionSnapshot{
			ProductID: s.productID(),
			Status:    gocredits.Status(s.Status),
			EndedAt:   s.endedAt(),
		})
	}

	ev := &gocredits.PaymentEvent{
		Type:          gocredits.EventCustomerStateChanged,
		UserID:        userID,
		CustomerID:    state.ID,
		Subscriptions: subs,
		Verified:      true, // fetched over the authenticated API
		OccurredAt:    time.Now().UTC(),
	}

	result, err := p.processor.Process(ctx, ev)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return "", err
	}

	p.metrics.RecordUserSync(providerName, "success")
	if result.State != nil {
		return result.State.Plan, nil
	}
	return gocredits.PlanFree, nil
}
