package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/ratelimit"
	"github.com/reyatelehealth2026-crypto/chatnextjs-sub000/server/common/transport/httpresp"
)

// RateLimited applies the dual fixed-window limiter. The subject key prefers
// the session id, then the authenticated user, then the client address; the
// account key is the authenticated tenant.
func RateLimited(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		subjectKey := strings.TrimSpace(c.GetHeader("X-Session-ID"))
		if subjectKey == "" {
			if rawUserID, ok := c.Get("auth_user_id"); ok {
				if userID, ok := rawUserID.(string); ok {
					subjectKey = strings.TrimSpace(userID)
				}
			}
		}
		if subjectKey == "" {
			subjectKey = c.ClientIP()
		}

		tenantKey := ""
		if rawTenantID, ok := c.Get("auth_tenant_id"); ok {
			if tenantID, ok := rawTenantID.(string); ok {
				tenantKey = strings.TrimSpace(tenantID)
			}
		}

		res := limiter.Consume(subjectKey, tenantKey)
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Scope", string(res.Scope))
		if !res.OK {
			retryAfter := int(time.Until(res.ResetAt).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpresp.NewErrorResponse(httpresp.ErrRateLimited))
			return
		}
		c.Next()
	}
}
