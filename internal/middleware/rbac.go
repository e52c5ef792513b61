package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/response"
)

func currentClaims(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

// RequireRoles admits callers whose platform role is one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := currentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireApprover admits administrators and staff holding at least one
// approval role. Whether that role matches the pending step is decided later.
func RequireApprover() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := currentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		switch {
		case claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin:
		case claims.Role == models.RoleStaff && len(claims.ApprovalRoles) > 0:
		default:
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "no approval role granted"))
			c.Abort()
			return
		}
		c.Next()
	}
}
