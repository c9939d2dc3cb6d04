package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/labrecord-api/internal/utils"
)

// RateLimit throttles writes per school and user. Callers without a principal share a bucket per IP.
func RateLimit(scope string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Next: func(c *fiber.Ctx) bool {
			// Upgrades are long lived and counted by the hub instead.
			return isUpgrade(c)
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return rateLimitKey(scope, c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, fmt.Sprintf("%.0f", window.Seconds()))
			return utils.SendError(c, fiber.StatusTooManyRequests, "too many requests, slow down")
		},
	})
}

func rateLimitKey(scope string, c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(uint)
	if userID == 0 {
		return fmt.Sprintf("%s:ip:%s", scope, c.IP())
	}
	schoolID, _ := c.Locals("school_id").(uint)
	return fmt.Sprintf("%s:school-%d:user-%d", scope, schoolID, userID)
}
