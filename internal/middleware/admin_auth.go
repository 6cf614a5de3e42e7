package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/leshchenko/tgpool/internal/adminauth"
	"github.com/leshchenko/tgpool/internal/apperr"
)

// AdminAuth requires a valid "Bearer <jwt>" Authorization header signed by
// svc, protecting every /admin/* route.
func AdminAuth(svc *adminauth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			return apperr.New(apperr.ErrMissingToken, "missing Authorization header")
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return apperr.New(apperr.ErrMissingToken, "Authorization header must be a Bearer token")
		}

		operator, err := svc.Validate(token)
		if err != nil {
			return apperr.New(apperr.ErrInvalidToken, err.Error())
		}

		c.Locals("operator", operator)
		return c.Next()
	}
}
