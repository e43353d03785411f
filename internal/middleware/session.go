package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AnonymousSessionHeader carries the tracking id of a visitor who has not signed up yet.
const AnonymousSessionHeader = "X-Session-Id"

const maxAnonymousIDLength = 128

// AnonymousSession copies the visitor tracking id into locals so handlers can fall back to it.
func AnonymousSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := strings.TrimSpace(c.Get(AnonymousSessionHeader)); id != "" && len(id) <= maxAnonymousIDLength {
			c.Locals("anonymous_id", id)
		}
		return c.Next()
	}
}

// GetAnonymousID returns the visitor tracking id bound to the request, if any.
func GetAnonymousID(c *fiber.Ctx) string {
	if value, ok := c.Locals("anonymous_id").(string); ok {
		return value
	}
	return ""
}
