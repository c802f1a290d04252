// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// PlayerContextMiddleware extracts player identity and roles set by the
// Gateway. Applied only to routes under /s/ — but for safety, we guard.
func PlayerContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		playerID := c.Get("X-User-ID")
		username := c.Get("X-User-Name")
		rolesStr := c.Get("X-User-Roles")

		path := c.Path()
		if strings.HasPrefix(path, "/s/") && playerID == "" {
			log.Printf("❌ [PLAYER_CTX] X-User-ID required but missing on secured route: %s", path)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		if rolesStr != "" {
			for _, r := range strings.Split(rolesStr, ",") {
				r = strings.TrimSpace(r)
				if r != "" {
					roles = append(roles, r)
				}
			}
		}

		// Attach to ctx for handlers
		c.Locals("player_id", playerID)
		c.Locals("player_name", username)
		c.Locals("player_roles", roles)

		return c.Next()
	}
}

// RequireAdmin gates the admin operations (score reset, channel removal).
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals("player_roles").([]string)
		for _, r := range roles {
			if r == "admin" {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "admin role required",
		})
	}
}
