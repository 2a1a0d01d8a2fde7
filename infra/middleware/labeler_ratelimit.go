package middleware

import (
	"math"
	"strconv"
	"time"

	"labeler_server/pkg/apperr"
	"labeler_server/pkg/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// UserRateLimit throttles a route per authenticated user.
func UserRateLimit(limiter *ratelimit.SlidingWindowLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := GetUserID(c)
		if err != nil {
			return err
		}

		allowed, wait := limiter.Allow(c.UserContext(), c.Route().Path+":"+userID)
		if !allowed {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return apperr.RateLimited(time.Duration(secs) * time.Second)
		}
		return c.Next()
	}
}
