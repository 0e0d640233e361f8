package api

import (
	"net/http"
	"strings"

	"freightfloo/auth"

	"github.com/gofiber/fiber/v2"
)

const (
	localUserID = "user_id"
	localRole   = "role"
)

// RequireAuth validates the bearer token and stashes the actor identity in
// the request locals.
func RequireAuth(svc *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
				Message: "missing bearer token",
				RayID:   rayID(c),
			})
		}

		userID, role, err := svc.VerifyToken(token)
		if err != nil {
			return c.Status(http.StatusUnauthorized).JSON(ErrorResponse{
				Message: "invalid token",
				RayID:   rayID(c),
			})
		}

		c.Locals(localUserID, userID)
		c.Locals(localRole, role)
		return c.Next()
	}
}

// actorID returns the authenticated user id set by RequireAuth.
func actorID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
