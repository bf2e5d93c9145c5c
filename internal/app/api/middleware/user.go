package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the authenticated caller. Sessions are owned by the
// upstream auth proxy, which sets it.
const HeaderUserID = "X-User-ID"

// UserMiddleware copies X-User-ID into gin.Context and the request context
// under "user_id". Requests without it pass through anonymously.
func UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(HeaderUserID)); uid != "" {
			c.Set("user_id", uid)
			ctx := context.WithValue(c.Request.Context(), "user_id", uid)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// UserID returns the caller attached by UserMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString("user_id")
}
