package middleware

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	patAuth "github.com/MrEthical07/patAuth"
)

// RateLimit enforces the engine policy of route per client IP. Denied
// requests get 429 with Retry-After in whole seconds. A limiter failure lets
// the request through.
func RateLimit(engine *patAuth.Engine, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		subject := engine.ClientContextFromRequest(c.Request).IP
		d, err := engine.AllowRequest(patAuth.WithClientIP(ctx, subject), route, subject)
		switch {
		case errors.Is(err, patAuth.ErrRateLimited):
			seconds := int(math.Ceil(d.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", "0")
			Abort(c, http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please try again later.")
			return
		case err != nil:
			c.Next()
			return
		}

		if d.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}
		c.Next()
	}
}
