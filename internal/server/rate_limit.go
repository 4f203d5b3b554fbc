package server

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	"go.uber.org/zap"
)

// TenantCreateRateLimit throttles tenant creation per client IP. The check is
// skipped without redis, and a failing limiter answers 503.
func (s *Server) TenantCreateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.createLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.createLimiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("tenant create rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("tenant create rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
			)
			setRetryAfter(c, result.RetryAfter)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

// setRetryAfter writes whole seconds, rounded up and at least one.
func setRetryAfter(c *gin.Context, wait time.Duration) {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
}
