package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"relay-service/internal/monitoring"
	"relay-service/internal/services"

	"github.com/gin-gonic/gin"
)

// limiterTimeout bounds the limiter lookup so a slow store cannot hold up
// upgrades.
const limiterTimeout = 500 * time.Millisecond

type RateLimitMiddleware struct {
	limiter services.RateLimiter
	monitor *monitoring.Monitor
}

func NewRateLimitMiddleware(limiter services.RateLimiter, monitor *monitoring.Monitor) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		monitor: monitor,
	}
}

// RateLimitIP limits requests per client IP and path. A failing limiter
// lets the request through.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if requests <= 0 {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		key := fmt.Sprintf("rate_limit_ip:%s:%s", clientIP, c.Request.URL.Path)

		ctx, cancel := context.WithTimeout(c.Request.Context(), limiterTimeout)
		allowed, err := rm.limiter.Allow(ctx, key, requests, window)
		cancel()
		if err != nil {
			rm.monitor.Warn("rate_limit", "check rate limit", err, "clientIP", clientIP)
			c.Next()
			return
		}

		if !allowed {
			rm.monitor.Logger().Warn("Upgrade rate limit exceeded", "clientIP", clientIP, "path", c.Request.URL.Path)
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": fmt.Sprintf("Too many requests. Limit: %d per %v", requests, window),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
