package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrForbidden, "only staff can verify attachments")
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "forbidden", ErrForbidden.Message)
	assert.Equal(t, ErrForbidden.MessageAr, err.MessageAr)
}

func TestWithFieldsCopiesMap(t *testing.T) {
	fields := map[string]string{"reason": "is required"}
	err := WithFields(ErrValidation, fields)
	fields["reason"] = "changed"

	assert.Equal(t, "is required", err.Fields["reason"])
	assert.Empty(t, ErrValidation.Fields)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	cause := fmt.Errorf("scan: %w", errors.New("boom"))
	err := FromError(cause)
	require.NotNil(t, err)
	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.ErrorIs(t, err, cause)

	typed := Clone(ErrNotFound, "request not found")
	assert.Same(t, typed, FromError(fmt.Errorf("lookup: %w", typed)))
	assert.Nil(t, FromError(nil))
}

func TestWithReason(t *testing.T) {
	err := WithReason(ErrWorkflowRejected, "ROLE_MISMATCH", "approver role does not match", "دور المعتمد غير مطابق")
	assert.Equal(t, "ROLE_MISMATCH", err.Reason)
	assert.Equal(t, "دور المعتمد غير مطابق", err.MessageAr)
	assert.True(t, errors.Is(err, ErrWorkflowRejected))
}

func TestWithResourceIDKeepsOriginal(t *testing.T) {
	rejected := WithReason(ErrWorkflowRejected, "NOT_DRAFT", "request is not a draft", "")
	err := WithResourceID(rejected, 17)
	require.NotNil(t, err.ResourceID)
	assert.Equal(t, int64(17), *err.ResourceID)
	assert.Equal(t, "NOT_DRAFT", err.Reason)
	assert.Nil(t, rejected.ResourceID)
	assert.True(t, errors.Is(err, ErrWorkflowRejected))

	body, jsonErr := json.Marshal(err)
	require.NoError(t, jsonErr)
	assert.Contains(t, string(body), `"resourceId":17`)

	wrapped := WithResourceID(errors.New("db down"), 3)
	assert.Equal(t, ErrInternal.Code, wrapped.Code)
	assert.Equal(t, int64(3), *wrapped.ResourceID)
}
