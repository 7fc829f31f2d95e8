package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/auth"
)

const bearerPrefix = "bearer "

// SessionAuth validates the bearer token and stores the session in locals
// under auth.LocalSession.
func SessionAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) <= len(bearerPrefix) || !strings.EqualFold(authz[:len(bearerPrefix)], bearerPrefix) {
			return apperr.Respond(c, auth.ErrNoSession)
		}
		sess, err := svc.Authorize(c.UserContext(), strings.TrimSpace(authz[len(bearerPrefix):]))
		if err != nil {
			return apperr.Respond(c, err)
		}
		c.Locals(auth.LocalSession, sess)
		return c.Next()
	}
}
