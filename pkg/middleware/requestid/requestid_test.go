package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, header string) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var fromGin, fromCtx string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		fromGin = Value(c)
		fromCtx = FromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, fromGin, fromCtx
}

func TestMiddlewareKeepsValidUpstreamID(t *testing.T) {
	w, fromGin, fromCtx := serve(t, "gateway-1234abcd")
	assert.Equal(t, "gateway-1234abcd", w.Header().Get(HeaderKey))
	assert.Equal(t, "gateway-1234abcd", fromGin)
	assert.Equal(t, fromGin, fromCtx)
}

func TestMiddlewareReplacesMissingOrUnsafeID(t *testing.T) {
	for _, header := range []string{"", "short", "bad id with spaces\n"} {
		w, fromGin, fromCtx := serve(t, header)
		got := w.Header().Get(HeaderKey)
		_, err := uuid.Parse(got)
		require.NoError(t, err, "header %q", header)
		assert.Equal(t, got, fromGin)
		assert.Equal(t, got, fromCtx)
	}
}
