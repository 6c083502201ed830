// services/auth_middleware.go
package services

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hanmadi-app/hanmadi_api/shared"
)

// RequiredAuth guards a route behind a valid session token. The token comes
// from the Authorization header, falling back to the session cookie for
// browser clients. Every rejection is the same opaque 401.
func (svc *JWTService) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := ExtractTokenFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Cookies(shared.SessionCookie)
		}
		if token == "" {
			return shared.NewUnauthorizedError(nil)
		}

		claims, err := svc.Verify(c.UserContext(), token)
		if err != nil {
			return shared.NewUnauthorizedError(err)
		}

		c.Locals(shared.UserID, claims.UserID)
		c.Locals(shared.UserEmail, claims.Email)
		c.Locals(shared.UserName, claims.Name)
		c.Locals(shared.TokenJTI, claims.ID)
		if claims.ExpiresAt != nil {
			c.Locals(shared.TokenExp, claims.ExpiresAt.Time)
		}

		return c.Next()
	}
}
