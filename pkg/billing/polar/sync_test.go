package polar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/thumbsmith/gocredits/pkg/billing"
	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

func TestSyncUser_ActiveSubscription(t *testing.T) {
	provider := newAPITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers/external/user-1/state" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "cus_1",
			"external_id": "user-1",
			"active_subscriptions": []map[string]string{
				{"product_id": "prod_ultra", "status": "active"},
			},
		})
	}))

	plan, err := provider.SyncUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}
	if plan != "ultra" {
		t.Errorf("Plan = %q, want ultra", plan)
	}

	state, err := provider.processor.GetState(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetState failed: %v", err)
	}
	if state.Plan != "ultra" || state.Status != gocredits.StatusActive {
		t.Errorf("State = %+v, want ultra/active", state)
	}
	if state.CustomerID != "cus_1" {
		t.Errorf("CustomerID = %q, want cus_1", state.CustomerID)
	}
}

func TestSyncUser_UnknownCustomerDowngradesToFree(t *testing.T) {
	provider := newAPITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))

	// Seed a paid state first; the 404 sync must drop it to free.
	_, err := provider.processor.Process(context.Background(), &gocredits.PaymentEvent{
		Type:      gocredits.EventOrderPaid,
		UserID:    "user-1",
		OrderID:   "ord_1",
		ProductID: "prod_pro",
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	plan, err := provider.SyncUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SyncUser failed: %v", err)
	}
	if plan != gocredits.PlanFree {
		t.Errorf("Plan = %q, want free", plan)
	}

	state, _ := provider.processor.GetState(context.Background(), "user-1")
	if state.Plan != gocredits.PlanFree || state.Status != gocredits.StatusInactive {
		t.Errorf("State = %+v, want free/inactive", state)
	}
	// Credits survive the downgrade.
	if state.Credits != 100 {
		t.Errorf("Credits = %d, want 100", state.Credits)
	}
}

func TestSyncUser_APIError(t *testing.T) {
	provider := newAPITestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := provider.SyncUser(context.Background(), "user-1")
	if !errors.Is(err, billing.ErrProviderAPIError) {
		t.Errorf("Expected ErrProviderAPIError, got %v", err)
	}
}

func TestSyncUser_RequiresToken(t *testing.T) {
	provider := newWebhookTestProvider(t, nil)

	_, err := provider.SyncUser(context.Background(), "user-1")
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Errorf("Expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestSyncUser_RequiresUserID(t *testing.T) {
	provider := newAPITestProvider(t, http.NotFoundHandler())

	if _, err := provider.SyncUser(context.Background(), ""); err == nil {
		t.Error("Expected error for empty user id")
	}
}
