package identity

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/optimo/bridgebroker/internal/utils"
)

const (
	// IdentityKey is the key used to store the verified identity in the Fiber context
	IdentityKey = "identity"
	// AccessTokenKey is the key used to store the raw bearer token in the Fiber context
	AccessTokenKey = "access_token"
)

// Middleware returns a Fiber middleware that authenticates requests by
// verifying the bearer token from the Authorization header against the
// identity provider. On success the Identity and the raw token are
// stored in the request context.
func Middleware(provider Provider) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return utils.ErrorResponse(c, utils.ErrUnauthorized)
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return utils.ErrorResponse(c, utils.ErrUnauthorized)
		}

		token := parts[1]
		ident, err := provider.Verify(c.UserContext(), token)
		if err != nil {
			return utils.ErrorResponse(c, utils.ErrUnauthorized)
		}

		c.Locals(IdentityKey, ident)
		c.Locals(AccessTokenKey, token)

		return c.Next()
	}
}

// FromContext returns the verified identity stored by Middleware, or
// nil when the request was not authenticated.
func FromContext(c *fiber.Ctx) *Identity {
	ident, _ := c.Locals(IdentityKey).(*Identity)
	return ident
}

// TokenFromContext returns the raw bearer token stored by Middleware.
func TokenFromContext(c *fiber.Ctx) string {
	token, _ := c.Locals(AccessTokenKey).(string)
	return token
}
