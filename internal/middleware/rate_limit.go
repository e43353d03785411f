package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/adeline-api/internal/utils"
)

// RateLimit creates a per-caller rate limiter keyed by user id, then anonymous id, then IP.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return fmt.Sprintf("%s:%s", identifier, callerKey(c))
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests")
		},
	})
}

func callerKey(c *fiber.Ctx) string {
	if userID, ok := c.Locals("user_id").(uint); ok && userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	if anonymous := GetAnonymousID(c); anonymous != "" {
		return "anon:" + anonymous
	}
	return "ip:" + c.IP()
}
