package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
	"github.com/thumbsmith/gocredits/storage/memory"
)

// Test helper to create a processor with in-memory storage.
func setupTestProcessor(t *testing.T) *gocredits.Processor {
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

// Test helper to grant credits to a user through a paid order.
func grantCredits(t *testing.T, processor *gocredits.Processor, userID string) {
	t.Helper()

	_, err := processor.Process(context.Background(), &gocredits.PaymentEvent{
		Type:       gocredits.EventOrderPaid,
		UserID:     userID,
		OrderID:    "ord_seed_" + userID,
		ProductID:  "prod_pro",
		Verified:   true,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to grant credits: %v", err)
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_Success(t *testing.T) {
	processor := setupTestProcessor(t)
	grantCredits(t, processor, "user1")

	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
		GetAmount: FixedAmount(10),
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if remaining := rec.Header().Get("X-Credits-Remaining"); remaining != "90" {
		t.Errorf("X-Credits-Remaining = %q, want 90", remaining)
	}

	state, _ := processor.GetState(context.Background(), "user1")
	if state.Credits != 90 {
		t.Errorf("Credits = %d, want 90", state.Credits)
	}
}

func TestMiddleware_InsufficientCredits(t *testing.T) {
	processor := setupTestProcessor(t)
	grantCredits(t, processor, "user1")

	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
		GetAmount: FixedAmount(500),
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Status = %d, want 402", rec.Code)
	}

	// The failed gate must not have deducted anything.
	state, _ := processor.GetState(context.Background(), "user1")
	if state.Credits != 100 {
		t.Errorf("Credits = %d, want 100", state.Credits)
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	processor := setupTestProcessor(t)

	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", rec.Code)
	}
}

func TestMiddleware_DefaultAmountIsOne(t *testing.T) {
	processor := setupTestProcessor(t)
	grantCredits(t, processor, "user1")

	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	state, _ := processor.GetState(context.Background(), "user1")
	if state.Credits != 99 {
		t.Errorf("Credits = %d, want 99", state.Credits)
	}
}

func TestMiddleware_AmountExtractorError(t *testing.T) {
	processor := setupTestProcessor(t)
	grantCredits(t, processor, "user1")

	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
		GetAmount: func(*http.Request) (int, error) {
			return 0, errors.New("bad cost header")
		},
	})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", rec.Code)
	}
}

func TestMiddleware_CustomCallbacks(t *testing.T) {
	processor := setupTestProcessor(t)

	var gotState *gocredits.State
	handler := Middleware(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
		GetAmount: FixedAmount(5),
		OnInsufficientCredits: func(w http.ResponseWriter, _ *http.Request, state *gocredits.State) {
			gotState = state
			w.WriteHeader(http.StatusTeapot)
		},
	})(okHandler())

	// User exists with zero credits after a state sync.
	_, err := processor.Process(context.Background(), &gocredits.PaymentEvent{
		Type:     gocredits.EventCustomerStateChanged,
		UserID:   "user1",
		Verified: true,
	})
	if err != nil {
		t.Fatalf("Failed to seed state: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("Status = %d, want custom handler's 418", rec.Code)
	}
	if gotState == nil || gotState.Credits != 0 {
		t.Errorf("Callback state = %+v, want zero balance", gotState)
	}
}

func TestHandlerFunc(t *testing.T) {
	processor := setupTestProcessor(t)
	grantCredits(t, processor, "user1")

	handler := HandlerFunc(Config{
		Processor: processor,
		GetUserID: HeaderUserID("X-User-ID"),
	})(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/generate", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status = %d, want 204", rec.Code)
	}
}
