package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

// TraceMiddleware stores a trace id under "traceID" in the gin context and
// the request context. A well-formed X-Request-ID from the caller is reused;
// anything else is replaced by a fresh UUID so log fields stay clean.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderRequestID)
		if !validRequestID(traceID) {
			traceID = uuid.NewString()
		}

		c.Set("traceID", traceID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), "traceID", traceID))
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}
