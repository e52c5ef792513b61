package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/service"
)

// RequestOrigin stamps the client address and user agent onto the request context so
// audit entries written by services record who called them.
func RequestOrigin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestOrigin(c.Request.Context(), service.RequestOrigin{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
