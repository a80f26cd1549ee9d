package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prperemyshlev/eduportal-auth/internal/dto"
	"github.com/prperemyshlev/eduportal-auth/internal/service"
)

// RateLimitMiddleware creates a rate limiting middleware. Limiter failures let
// the request through.
func RateLimitMiddleware(rateLimiter *service.RateLimiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed, err := rateLimiter.Allow(c.Request.Context(), key, limit, window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))

		if err != nil && !errors.Is(err, service.ErrRateLimitExceeded) {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))

			message := "rate limit exceeded"
			if err != nil {
				message = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   http.StatusText(http.StatusTooManyRequests),
				Message: message,
			})
			return
		}

		remaining, err := rateLimiter.GetRemainingRequests(c.Request.Context(), key, limit, window)
		if err == nil {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		c.Next()
	}
}

// IPBasedKey keys rate limits by client IP and route so login and register
// attempts are counted separately
func IPBasedKey(c *gin.Context) string {
	return c.FullPath() + ":" + c.ClientIP()
}
