package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/screenbug/backend/internal/auth"
	"github.com/screenbug/backend/pkg/response"
)

// RequireRole allows only callers whose token carries one of roles. It must run after JWT.
// Unknown role names panic at route setup.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		if !auth.ValidRole(r) {
			panic(fmt.Sprintf("middleware: unknown role %q", r))
		}
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			response.Unauthorized(c, "missing caller context")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
