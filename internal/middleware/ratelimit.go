package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/strobelt/aegis/internal/ratelimit"
)

// RateLimit admits requests through the fixed-window limiter and
// publishes the X-RateLimit headers on every response, allowed or not.
// Paths in skip are exempt (health probes, metrics, static assets).
func RateLimit(limiter *ratelimit.Limiter, scope string, limit int, skip ...string) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		exempt[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		res := limiter.Allow(c.Request.Context(), scope, ClientID(c.Request), limit)

		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))

		if !res.Allowed {
			h.Set("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
