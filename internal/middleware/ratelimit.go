package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mshop/internal/pkg/errcode"
	"github.com/xxxsen/mshop/internal/pkg/response"
	"github.com/xxxsen/mshop/internal/ratelimit"
)

// RateLimit counts requests per ip, user and route. Limiter failures let the
// request through.
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || rule.Limit <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		uid := c.GetString(ContextUserIDKey)
		if uid == "" {
			uid = "0"
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := strings.Join([]string{ip, uid, path}, "|")
		logger := logutil.GetLogger(c.Request.Context())

		res, err := limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			logger.Error("rate limiter unavailable", zap.String("path", path), zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			logger.Warn("rate limit hit",
				zap.String("ip", ip),
				zap.String("user_id", uid),
				zap.String("path", path),
			)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			response.Error(c, http.StatusTooManyRequests, errcode.TooMany, "Too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
