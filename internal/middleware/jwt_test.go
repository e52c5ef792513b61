package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/service"
)

func newAuthRouter(t *testing.T, handlers ...gin.HandlerFunc) (*gin.Engine, *service.AuthService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "secret", Issuer: "sis"})
	router := gin.New()
	chain := append([]gin.HandlerFunc{JWT(auth)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/requests/:id", chain...)
	return router, auth
}

func bearer(t *testing.T, auth *service.AuthService, role models.UserRole) string {
	t.Helper()
	token, err := auth.IssueToken(models.JWTClaims{UserID: "u1", Role: role}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestJWTRequiresBearerToken(t *testing.T) {
	router, auth := newAuthRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/requests/1", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/requests/1", nil)
	req.Header.Set("Authorization", bearer(t, auth, models.RoleStudent))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRBACRestrictsRoles(t *testing.T) {
	router, auth := newAuthRouter(t, RequireRoles(models.RoleStaff, models.RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/requests/1", nil)
	req.Header.Set("Authorization", bearer(t, auth, models.RoleStudent))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/requests/1", nil)
	req.Header.Set("Authorization", bearer(t, auth, models.RoleStaff))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestOriginReachesServices(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var captured context.Context
	router := gin.New()
	router.Use(RequestOrigin())
	router.GET("/", func(c *gin.Context) {
		captured = c.Request.Context()
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "portal/1.0")
	req.RemoteAddr = "10.1.2.3:5555"
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, captured)
	assert.Equal(t, service.RequestOrigin{IPAddress: "10.1.2.3", UserAgent: "portal/1.0"}, service.RequestOriginFrom(captured))
}
