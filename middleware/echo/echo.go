// Package echo provides Echo middleware that gates requests on a user's
// credit balance.
package echo

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// UserIDExtractor extracts the user ID from an Echo context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c echo.Context) string

// AmountExtractor calculates the number of credits a request costs.
type AmountExtractor func(c echo.Context) (int, error)

// Config holds middleware configuration.
type Config struct {
	// Processor applies the credit deduction (required).
	Processor *gocredits.Processor

	// GetUserID extracts user ID from context (required).
	GetUserID UserIDExtractor

	// GetAmount calculates the credit cost of the request.
	// Default: every request costs 1 credit.
	GetAmount AmountExtractor

	// InsufficientCreditsStatusCode is the HTTP status code to return when
	// the balance is short. Default: 402 (Payment Required).
	InsufficientCreditsStatusCode int

	// OnInsufficientCredits is called when the balance is short.
	// If nil, uses a JSON error response with the current balance.
	OnInsufficientCredits func(c echo.Context, state *gocredits.State) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that deducts credits before
// letting the request through.
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Processor == nil {
		panic("gocredits/echo: Config.Processor is required")
	}
	if cfg.GetUserID == nil {
		panic("gocredits/echo: Config.GetUserID is required")
	}

	if cfg.GetAmount == nil {
		cfg.GetAmount = FixedAmount(1)
	}
	if cfg.InsufficientCreditsStatusCode == 0 {
		cfg.InsufficientCreditsStatusCode = http.StatusPaymentRequired
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			amount, err := cfg.GetAmount(c)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}

			ctx := c.Request().Context()
			state, err := cfg.Processor.ConsumeCredits(ctx, userID, amount)
			if err != nil {
				if errors.Is(err, gocredits.ErrInsufficientCredits) {
					current, _ := cfg.Processor.GetState(ctx, userID)
					if cfg.OnInsufficientCredits != nil {
						return cfg.OnInsufficientCredits(c, current)
					}
					body := map[string]interface{}{"error": "insufficient credits", "required": amount}
					if current != nil {
						body["remaining"] = current.Credits
						body["plan"] = current.Plan
					}
					return c.JSON(cfg.InsufficientCreditsStatusCode, body)
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}

			c.Response().Header().Set("X-Credits-Remaining", fmt.Sprintf("%d", state.Credits))
			return next(c)
		}
	}
}

// FixedAmount returns an AmountExtractor that always returns a fixed cost.
func FixedAmount(amount int) AmountExtractor {
	return func(_ echo.Context) (int, error) {
		return amount, nil
	}
}

// HeaderUserID returns a UserIDExtractor that reads the user ID from a header.
func HeaderUserID(header string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(header)
	}
}
