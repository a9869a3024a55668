package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/gin-gonic/gin"
)

// RateLimit applies a fixed window per client IP for purpose.
func RateLimit(limiter service.RateLimiter, purpose string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := limiter.Check(c.Request.Context(), purpose, c.ClientIP(), limit, window)

		c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			TooManyRequests(c, d)
			return
		}
		c.Next()
	}
}

// AuthBlock rejects identities under an escalation block before they reach the login handler.
func AuthBlock(limiter service.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if blocked, left := limiter.IsBlocked(c.Request.Context(), c.ClientIP()); blocked {
			TooManyRequests(c, entity.RateDecision{RetryAfter: left})
			return
		}
		c.Next()
	}
}

func TooManyRequests(c *gin.Context, d entity.RateDecision) {
	retryAfter := d.RetryAfterSeconds()
	c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success":    false,
		"error":      "too many requests",
		"retryAfter": retryAfter,
	})
}
