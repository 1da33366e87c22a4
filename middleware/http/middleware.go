// Package http provides HTTP middleware that gates requests on a user's
// credit balance.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// AmountExtractor calculates the number of credits a request costs.
// For example: a flat 1 per generation, or a size-based cost from the body.
type AmountExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration.
type Config struct {
	// Processor applies the credit deduction (required).
	Processor *gocredits.Processor

	// GetUserID extracts user ID from request (required).
	GetUserID UserIDExtractor

	// GetAmount calculates the credit cost of the request.
	// Default: every request costs 1 credit.
	GetAmount AmountExtractor

	// OnInsufficientCredits is called when the balance is short.
	// If nil, returns 402 Payment Required.
	OnInsufficientCredits func(w http.ResponseWriter, r *http.Request, state *gocredits.State)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that deducts credits before
// letting the request through.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.GetAmount == nil {
		config.GetAmount = FixedAmount(1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			amount, err := config.GetAmount(r)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Bad Request", http.StatusBadRequest)
				}
				return
			}

			ctx := r.Context()
			state, err := config.Processor.ConsumeCredits(ctx, userID, amount)
			if err != nil {
				if errors.Is(err, gocredits.ErrInsufficientCredits) {
					current, _ := config.Processor.GetState(ctx, userID)
					if config.OnInsufficientCredits != nil {
						config.OnInsufficientCredits(w, r, current)
					} else {
						msg := "Insufficient credits"
						if current != nil {
							msg = fmt.Sprintf("Insufficient credits: %d remaining, %d required", current.Credits, amount)
						}
						http.Error(w, msg, http.StatusPaymentRequired)
					}
				} else {
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
				}
				return
			}

			w.Header().Set("X-Credits-Remaining", fmt.Sprintf("%d", state.Credits))
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates on credits (HandlerFunc version).
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FixedAmount returns an AmountExtractor that always returns a fixed cost.
func FixedAmount(amount int) AmountExtractor {
	return func(_ *http.Request) (int, error) {
		return amount, nil
	}
}

// HeaderUserID returns a UserIDExtractor that reads the user ID from a header.
func HeaderUserID(header string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}
