package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/homeserve/marketplace/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	denied := "requires role " + strings.Join(roles, " or ")
	return func(c *gin.Context) {
		role, ok := CallerRole(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}

// CallerRole returns the role set by JWT.
func CallerRole(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserRole)
	if !ok {
		return "", false
	}
	role, ok := v.(string)
	return role, ok && role != ""
}

// CallerID returns the user id set by JWT.
func CallerID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// CanAccess reports whether the caller is an admin or one of parties.
func CanAccess(c *gin.Context, parties ...uuid.UUID) bool {
	if role, _ := CallerRole(c); role == RoleAdmin {
		return true
	}
	caller, ok := CallerID(c)
	if !ok {
		return false
	}
	for _, p := range parties {
		if p == caller {
			return true
		}
	}
	return false
}
