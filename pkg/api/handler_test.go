package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
	"github.com/thumbsmith/gocredits/storage/memory"
)

const (
	testUserID  = "user123"
	testUserID2 = "other-user"
	testOrderID = "ord_123"
)

// Helper to create a test processor backed by in-memory storage.
func newTestProcessor(t *testing.T) *gocredits.Processor {
	t.Helper()

	processor, err := gocredits.NewProcessor(gocredits.Config{
		Storage: memory.New(),
		Catalog: gocredits.NewCatalog(
			gocredits.Product{ID: "prod_pro", Plan: "pro", CreditGrant: 100, Priority: 1},
		),
	})
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}
	return processor
}

// Helper to seed a paid order for a user.
func seedOrder(t *testing.T, processor *gocredits.Processor, userID, orderID string) {
	t.Helper()

	_, err := processor.Process(context.Background(), &gocredits.PaymentEvent{
		Type:       gocredits.EventOrderPaid,
		UserID:     userID,
		OrderID:    orderID,
		ProductID:  "prod_pro",
		Amount:     2900,
		Currency:   "usd",
		Verified:   true,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to seed order: %v", err)
	}
}

func newTestHandler(t *testing.T, processor *gocredits.Processor) *Handler {
	t.Helper()

	handler, err := NewHandler(Config{
		Processor: processor,
		GetUserID: FromHeader("X-User-ID"),
	})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return handler
}

func TestHandler_GetEntitlement_HappyPath(t *testing.T) {
	processor := newTestProcessor(t)
	seedOrder(t, processor, testUserID, testOrderID)
	handler := newTestHandler(t, processor)

	req := httptest.NewRequest(http.MethodGet, "/api/entitlement", http.NoBody)
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	handler.GetEntitlement(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp EntitlementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.UserID != testUserID {
		t.Errorf("UserID = %q, want %q", resp.UserID, testUserID)
	}
	if resp.Credits != 100 {
		t.Errorf("Credits = %d, want 100", resp.Credits)
	}
	if resp.Plan != "pro" {
		t.Errorf("Plan = %q, want pro", resp.Plan)
	}
	if resp.Status != string(gocredits.StatusActive) {
		t.Errorf("Status = %q, want active", resp.Status)
	}
}

func TestHandler_GetEntitlement_UnknownUserGetsZeroState(t *testing.T) {
	handler := newTestHandler(t, newTestProcessor(t))

	req := httptest.NewRequest(http.MethodGet, "/api/entitlement", http.NoBody)
	req.Header.Set("X-User-ID", "never-seen")
	rec := httptest.NewRecorder()
	handler.GetEntitlement(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp EntitlementResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Credits != 0 || resp.Plan != gocredits.PlanFree {
		t.Errorf("Zero state = %+v, want free plan with 0 credits", resp)
	}
}

func TestHandler_GetEntitlement_MissingUser(t *testing.T) {
	handler := newTestHandler(t, newTestProcessor(t))

	req := httptest.NewRequest(http.MethodGet, "/api/entitlement", http.NoBody)
	rec := httptest.NewRecorder()
	handler.GetEntitlement(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", rec.Code)
	}
}

func TestHandler_GetEntitlement_UserIDTooLong(t *testing.T) {
	handler := newTestHandler(t, newTestProcessor(t))

	req := httptest.NewRequest(http.MethodGet, "/api/entitlement", http.NoBody)
	req.Header.Set("X-User-ID", strings.Repeat("x", maxUserIDLen+1))
	rec := httptest.NewRecorder()
	handler.GetEntitlement(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestHandler_GetOrder_HappyPath(t *testing.T) {
	processor := newTestProcessor(t)
	seedOrder(t, processor, testUserID, testOrderID)
	handler := newTestHandler(t, processor)

	req := httptest.NewRequest(http.MethodGet, "/api/orders?order_id="+testOrderID, http.NoBody)
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	handler.GetOrder(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.OrderID != testOrderID {
		t.Errorf("OrderID = %q, want %q", resp.OrderID, testOrderID)
	}
	if resp.Amount != 2900 || resp.Currency != "usd" {
		t.Errorf("Amount = %d %s, want 2900 usd", resp.Amount, resp.Currency)
	}
	if resp.Status != string(gocredits.LedgerPaid) {
		t.Errorf("Status = %q, want paid", resp.Status)
	}
}

func TestHandler_GetOrder_NotFound(t *testing.T) {
	handler := newTestHandler(t, newTestProcessor(t))

	req := httptest.NewRequest(http.MethodGet, "/api/orders?order_id=ord_missing", http.NoBody)
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	handler.GetOrder(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestHandler_GetOrder_OtherUsersOrderHidden(t *testing.T) {
	processor := newTestProcessor(t)
	seedOrder(t, processor, testUserID, testOrderID)
	handler := newTestHandler(t, processor)

	req := httptest.NewRequest(http.MethodGet, "/api/orders?order_id="+testOrderID, http.NoBody)
	req.Header.Set("X-User-ID", testUserID2)
	rec := httptest.NewRecorder()
	handler.GetOrder(rec, req)

	// Indistinguishable from a missing order.
	if rec.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", rec.Code)
	}
}

func TestHandler_GetOrder_MissingOrderID(t *testing.T) {
	handler := newTestHandler(t, newTestProcessor(t))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", http.NoBody)
	req.Header.Set("X-User-ID", testUserID)
	rec := httptest.NewRecorder()
	handler.GetOrder(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestNewHandler_InvalidConfig(t *testing.T) {
	if _, err := NewHandler(Config{}); err == nil {
		t.Error("Expected error for missing Processor")
	}
	if _, err := NewHandler(Config{Processor: newTestProcessor(t)}); err == nil {
		t.Error("Expected error for missing GetUserID")
	}
}

func TestFromContext(t *testing.T) {
	type ctxKey struct{}

	getUserID := FromContext(ctxKey{})
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)

	if got := getUserID(req); got != "" {
		t.Errorf("Expected empty user ID, got %q", got)
	}

	req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, testUserID))
	if got := getUserID(req); got != testUserID {
		t.Errorf("UserID = %q, want %q", got, testUserID)
	}
}
