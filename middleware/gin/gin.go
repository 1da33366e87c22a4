// Package gin provides Gin middleware that gates requests on a user's
// credit balance.
package gin

import (
	"errors"
	"fmt"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// UserIDExtractor extracts the user ID from a Gin context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *gongin.Context) string

// AmountExtractor calculates the number of credits a request costs.
type AmountExtractor func(c *gongin.Context) (int, error)

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
	OnInsufficientCredits func(c *gongin.Context, state *gocredits.State)

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that deducts credits before letting
// the request through.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Processor == nil {
		panic("gocredits/gin: Config.Processor is required")
	}
	if cfg.GetUserID == nil {
		panic("gocredits/gin: Config.GetUserID is required")
	}

	if cfg.GetAmount == nil {
		cfg.GetAmount = FixedAmount(1)
	}
	if cfg.InsufficientCreditsStatusCode == 0 {
		cfg.InsufficientCreditsStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		amount, err := cfg.GetAmount(c)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusBadRequest, gongin.H{"error": err.Error()})
			}
			c.Abort()
			return
		}

		state, err := cfg.Processor.ConsumeCredits(c.Request.Context(), userID, amount)
		if err != nil {
			if errors.Is(err, gocredits.ErrInsufficientCredits) {
				current, _ := cfg.Processor.GetState(c.Request.Context(), userID)
				if cfg.OnInsufficientCredits != nil {
					cfg.OnInsufficientCredits(c, current)
				} else {
					body := gongin.H{"error": "insufficient credits", "required": amount}
					if current != nil {
						body["remaining"] = current.Credits
						body["plan"] = current.Plan
					}
					c.AbortWithStatusJSON(cfg.InsufficientCreditsStatusCode, body)
				}
			} else {
				if cfg.OnError != nil {
					cfg.OnError(c, err)
				} else {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{"error": "internal server error"})
				}
			}
			c.Abort()
			return
		}

		c.Header("X-Credits-Remaining", fmt.Sprintf("%d", state.Credits))
		c.Next()
	}
}

// FixedAmount returns an AmountExtractor that always returns a fixed cost.
func FixedAmount(amount int) AmountExtractor {
	return func(_ *gongin.Context) (int, error) {
		return amount, nil
	}
}

// HeaderUserID returns a UserIDExtractor that reads the user ID from a header.
func HeaderUserID(header string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(header)
	}
}

// ContextUserID returns a UserIDExtractor that reads the user ID from a
// value set by an earlier auth middleware via c.Set.
func ContextUserID(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if v, ok := c.Get(key); ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
}
