package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

func recorder() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	return c, w
}

func TestWithMessageIsBilingual(t *testing.T) {
	c, w := recorder()
	WithMessage(c, http.StatusCreated, gin.H{"id": 9}, "Request submitted", "تم تقديم الطلب")

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var body struct {
		Data    map[string]interface{} `json:"data"`
		Message Message                `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(9), body.Data["id"])
	assert.Equal(t, "Request submitted", body.Message.En)
	assert.Equal(t, "تم تقديم الطلب", body.Message.Ar)
}

func TestErrorUsesTypedStatus(t *testing.T) {
	c, w := recorder()
	Error(c, appErrors.WithReason(appErrors.ErrWorkflowRejected, "STEP_NOT_PENDING", "step is not pending", "الخطوة ليست قيد الانتظار"))

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "WORKFLOW_REJECTED", body.Error.Code)
	assert.Equal(t, "STEP_NOT_PENDING", body.Error.Reason)
	assert.NotEmpty(t, body.Error.MessageAr)
}

func TestErrorHidesUntypedCause(t *testing.T) {
	c, w := recorder()
	Error(c, errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
