package middleware

import (
	"github.com/cvfolio/reqaudit/internal/pkg/apperrors"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware throttles per actor, falling back to the client IP for
// anonymous callers.
func RateLimitMiddleware(limiter *service.ActorLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ActorFrom(c).Key()
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			c.Error(apperrors.New(apperrors.ErrRateLimited, "rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
