// Package fiber provides Fiber middleware that gates requests on a user's
// credit balance.
package fiber

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/thumbsmith/gocredits/pkg/gocredits"
)

// UserIDExtractor extracts the user ID from a Fiber context.
// Return empty string if user is not authenticated.
type UserIDExtractor func(c *fiber.Ctx) string

// AmountExtractor calculates the number of credits a request costs.
type AmountExtractor func(c *fiber.Ctx) (int, error)

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
	OnInsufficientCredits func(c *fiber.Ctx, state *gocredits.State) error

	// OnUnauthorized is called when user is not authenticated.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs.
	// If nil, returns 500 Internal Server Error.
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that deducts credits before
// letting the request through.
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Processor == nil {
		panic("gocredits/fiber: Config.Processor is required")
	}
	if cfg.GetUserID == nil {
		panic("gocredits/fiber: Config.GetUserID is required")
	}

	if cfg.GetAmount == nil {
		cfg.GetAmount = FixedAmount(1)
	}
	if cfg.InsufficientCreditsStatusCode == 0 {
		cfg.InsufficientCreditsStatusCode = fiber.StatusPaymentRequired
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		amount, err := cfg.GetAmount(c)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		// Fiber uses fasthttp, so c.UserContext() is the context.Context.
		ctx := c.UserContext()
		state, err := cfg.Processor.ConsumeCredits(ctx, userID, amount)
		if err != nil {
			if errors.Is(err, gocredits.ErrInsufficientCredits) {
				current, _ := cfg.Processor.GetState(ctx, userID)
				if cfg.OnInsufficientCredits != nil {
					return cfg.OnInsufficientCredits(c, current)
				}
				body := fiber.Map{"error": "insufficient credits", "required": amount}
				if current != nil {
					body["remaining"] = current.Credits
					body["plan"] = current.Plan
				}
				return c.Status(cfg.InsufficientCreditsStatusCode).JSON(body)
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		}

		c.Set("X-Credits-Remaining", fmt.Sprintf("%d", state.Credits))
		return c.Next()
	}
}

// FixedAmount returns an AmountExtractor that always returns a fixed cost.
func FixedAmount(amount int) AmountExtractor {
	return func(_ *fiber.Ctx) (int, error) {
		return amount, nil
	}
}

// HeaderUserID returns a UserIDExtractor that reads the user ID from a header.
func HeaderUserID(header string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(header)
	}
}
