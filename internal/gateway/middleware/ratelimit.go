package middleware

import (
	"context"
	"fmt"
	"time"

	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Limiter admits at most max hits per window for key.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

type RateLimitPolicy struct {
	Window   time.Duration
	UserMax  int
	IPMax    int
	RouteMax int
}

type rateCheck struct {
	key string
	max int
}

// RateLimitMiddleware enforces per-route limits by client ip, user and route.
func RateLimitMiddleware(limiter Limiter, routeKey string, policy RateLimitPolicy, defaultWindow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		window := policy.Window
		if window == 0 {
			window = defaultWindow
		}

		var checks []rateCheck
		if policy.IPMax > 0 {
			checks = append(checks, rateCheck{fmt.Sprintf("gateway:rate:ip:%s:%s", c.ClientIP(), routeKey), policy.IPMax})
		}
		if userID, ok := c.Get("user_id"); ok && policy.UserMax > 0 {
			checks = append(checks, rateCheck{fmt.Sprintf("gateway:rate:user:%v:%s", userID, routeKey), policy.UserMax})
		}
		if policy.RouteMax > 0 {
			checks = append(checks, rateCheck{fmt.Sprintf("gateway:rate:route:%s", routeKey), policy.RouteMax})
		}

		for _, check := range checks {
			if err := limiter.Allow(c.Request.Context(), check.key, check.max, window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
