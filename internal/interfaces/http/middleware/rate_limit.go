package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/s2s/internal/infrastructure/ratelimit"
	"github.com/turtacn/s2s/pkg/logger"
)

// RateLimit throttles each client IP with its own token bucket.
func RateLimit(pool *ratelimit.TokenBucketPool, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool.GetOrCreate(c.ClientIP()).Allow() {
			c.Next()
			return
		}
		log.Warn(c.Request.Context(), "admin rate limit exceeded", logger.String("client_ip", c.ClientIP()))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too_many_requests"})
	}
}
