// Package api provides read-only HTTP endpoints for inspecting a user's
// entitlement state and individual payment ledger entries, for dashboards
// and support tooling.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for entitlement inspection.
type Handler struct {
	config Config
}

// GetEntitlement returns the user's current billing standing. A user with
// no recorded billing activity resolves to the zero state rather than 404,
// mirroring how the processor treats unknown users.
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return
	}

	state, err := h.config.Processor.GetState(ctx, userID)
	switch {
	case errors.Is(err, gocredits.ErrStateNotFound):
		state = &gocredits.State{
			UserID: userID,
			Plan:   gocredits.PlanFree,
			Status: gocredits.StatusInactive,
		}
	case err != nil:
		h.handleError(w, r, fmt.Errorf("failed to get entitlement state: %w", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, EntitlementResponse{
		UserID:     state.UserID,
		Credits:    state.Credits,
		Plan:       state.Plan,
		Status:     string(state.Status),
		CustomerID: state.CustomerID,
		UpdatedAt:  state.UpdatedAt,
	})
}

// GetOrder returns one payment ledger entry. The entry is only returned
// when it belongs to the requesting user.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return
	}

	orderID := h.config.GetOrderID(r)
	if orderID == "" {
		h.handleError(w, r, fmt.Errorf("order ID is required"), http.StatusBadRequest)
		return
	}

	entry, err := h.config.Processor.GetLedgerEntry(ctx, orderID)
	switch {
	case errors.Is(err, gocredits.ErrOrderNotFound):
		h.handleError(w, r, fmt.Errorf("order not found"), http.StatusNotFound)
		return
	case err != nil:
		h.handleError(w, r, fmt.Errorf("failed to get ledger entry: %w", err), http.StatusInternalServerError)
		return
	}

	if entry.UserID != userID {
		// Do not reveal whether the order exists for another user.
		h.handleError(w, r, fmt.Errorf("order not found"), http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		OrderID:   entry.OrderID,
		UserID:    entry.UserID,
		Amount:    entry.Amount,
		Currency:  entry.Currency,
		Status:    string(entry.Status),
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
