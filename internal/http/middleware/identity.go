// Identity middleware.
//
// The inbox service sits behind the platform gateway, which authenticates the
// caller and forwards their identity in the X-User-ID and X-User-Role
// headers. This middleware lifts both values into the Gin context so
// handlers, logging, and rate limiting share one source of truth. Requests
// without an identity pass through; each endpoint decides whether anonymous
// access is acceptable.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// userIDKey is the Gin context key holding the authenticated user id.
	userIDKey = "userID"
	// userRoleKey is the Gin context key holding the caller's role.
	userRoleKey = "userRole"

	userIDHeader   = "X-User-ID"
	userRoleHeader = "X-User-Role"
)

// Identity copies the gateway-supplied identity headers into the Gin context.
// Place it before Logger() so access logs carry the user id.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid := strings.TrimSpace(c.GetHeader(userIDHeader)); uid != "" {
			c.Set(userIDKey, uid)
		}
		if role := strings.ToLower(strings.TrimSpace(c.GetHeader(userRoleHeader))); role != "" {
			c.Set(userRoleKey, role)
		}
		c.Next()
	}
}

// UserID returns the authenticated user id from context, or "" when absent.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// UserRole returns the caller's role from context, or "" when absent.
func UserRole(c *gin.Context) string {
	if v, ok := c.Get(userRoleKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
