package api

import "time"

// EntitlementResponse is the JSON shape of a user's billing standing.
type EntitlementResponse struct {
	UserID     string    `json:"user_id"`
	Credits    int       `json:"credits"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"` // "active", "trialing", "inactive"
	CustomerID string    `json:"customer_id,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrderResponse is the JSON shape of one payment ledger entry.
type OrderResponse struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"` // "paid", "refunded"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse is the JSON shape of an API error.
type ErrorResponse struct {
	Error string `json:"error"`
}
