package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/middleware"
	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/workflow"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func actorFromContext(c *gin.Context) models.Actor {
	return models.ActorFromClaims(claimsFromContext(c))
}

// approverFromContext builds the approver assertion from the workflow roles granted in the token.
func approverFromContext(c *gin.Context, step *int) workflow.ApproverAssertion {
	assertion := workflow.ApproverAssertion{Step: step}
	claims := claimsFromContext(c)
	if claims == nil {
		return assertion
	}
	assertion.ApproverID = claims.UserID
	for _, r := range claims.ApprovalRoles {
		assertion.Roles = append(assertion.Roles, models.ApprovalRole(r))
	}
	return assertion
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.WithFields(appErrors.ErrValidation, map[string]string{name: "must be a positive integer"})
	}
	return id, nil
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, dest interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dest); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload")
	}
	return nil
}
