package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/chat-gateway/internal/auth"
)

// identityKey is where the middleware stores the validated identity in the
// request context.
const identityKey = "identity"

// requireAuth validates the Bearer token and stores the identity for
// downstream handlers.
func requireAuth(validator *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Authorization header must be: Bearer <token>",
			})
		}

		identity, err := validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or expired token",
			})
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) auth.Identity {
	identity, _ := c.Locals(identityKey).(auth.Identity)
	return identity
}
