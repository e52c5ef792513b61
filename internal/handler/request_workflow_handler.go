package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/dto"
	"github.com/noah-isme/sis-request-api/internal/middleware"
	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/service"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/response"
)

type confirmation struct {
	en string
	ar string
}

var (
	confirmSubmitted = confirmation{"Request submitted", "تم تقديم الطلب"}
	confirmApproved  = confirmation{"Approval recorded", "تم تسجيل الموافقة"}
	confirmRejected  = confirmation{"Request rejected", "تم رفض الطلب"}
	confirmReturned  = confirmation{"Request returned for revision", "تمت إعادة الطلب للتعديل"}
	confirmCancelled = confirmation{"Request cancelled", "تم إلغاء الطلب"}
	confirmCompleted = confirmation{"Request completed", "تم تنفيذ الطلب"}
)

// respondTransition renders a workflow outcome. A soft refusal becomes WORKFLOW_REJECTED.
func (h *RequestHandler) respondTransition(c *gin.Context, id int64, result *service.TransitionResult, err error, msg confirmation) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Applied() {
		response.Error(c, service.RejectionError(result.Rejection))
		return
	}
	detail, err := h.forms.Get(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, detail, msg.en, msg.ar)
}

// Submit godoc
// @Summary Submit a draft, or resubmit a request returned for revision
// @Tags Request Workflow
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/submit [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	actor := actorFromContext(c)
	current, err := h.forms.Get(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.SubmitOrResubmit(c.Request.Context(), id, current.Status, actor)
	h.respondTransition(c, id, result, err, confirmSubmitted)
}

// Approve godoc
// @Summary Approve the current step
// @Tags Request Workflow
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.RequestActionRequest false "Comments and expected step"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id}/approve [post]
func (h *RequestHandler) Approve(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RequestActionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.ApproveStep(c.Request.Context(), id, approverFromContext(c, req.ExpectedStep), req.Comments)
	h.respondTransition(c, id, result, err, confirmApproved)
}

// Reject godoc
// @Summary Reject the request at the current step
// @Tags Request Workflow
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.RejectRequestRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/{id}/reject [post]
func (h *RequestHandler) Reject(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RejectRequestRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.RejectStep(c.Request.Context(), id, approverFromContext(c, req.ExpectedStep), req.Reason, req.Comments)
	h.respondTransition(c, id, result, err, confirmRejected)
}

// ReturnForRevision godoc
// @Summary Return the request to the student for changes
// @Tags Request Workflow
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body dto.RequestActionRequest true "Comments for the student (required) and expected step"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/return-for-revision [post]
func (h *RequestHandler) ReturnForRevision(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.RequestActionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.ReturnForRevision(c.Request.Context(), id, approverFromContext(c, req.ExpectedStep), req.Comments)
	h.respondTransition(c, id, result, err, confirmReturned)
}

// Cancel godoc
// @Summary Cancel a request that has no final decision
// @Tags Request Workflow
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/cancel [post]
func (h *RequestHandler) Cancel(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.CancelRequest(c.Request.Context(), id, actorFromContext(c))
	h.respondTransition(c, id, result, err, confirmCancelled)
}

// Complete godoc
// @Summary Mark an approved request as executed
// @Tags Request Workflow
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/complete [post]
func (h *RequestHandler) Complete(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.CompleteRequest(c.Request.Context(), id, actorFromContext(c))
	h.respondTransition(c, id, result, err, confirmCompleted)
}

// Pending godoc
// @Summary List requests waiting on an approval role
// @Tags Request Workflow
// @Produce json
// @Param role query string false "Approval role, defaults to the caller's only role"
// @Param department_id query int false "Department ID"
// @Param college_id query int false "College ID"
// @Success 200 {object} response.Envelope
// @Router /requests/pending [get]
func (h *RequestHandler) Pending(c *gin.Context) {
	var query dto.PendingQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	claims := claimsFromContext(c)
	role := models.ApprovalRole(strings.ToUpper(strings.TrimSpace(query.Role)))
	if role == "" && claims != nil && len(claims.ApprovalRoles) == 1 {
		role = models.ApprovalRole(claims.ApprovalRoles[0])
	}
	if role != "" && !canViewWorklist(claims, role) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "approval role not granted"))
		return
	}
	items, err := h.workflow.GetPendingRequestsForRole(c.Request.Context(), models.PendingRequestFilter{
		Role:         role,
		DepartmentID: query.DepartmentID,
		CollegeID:    query.CollegeID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

func canViewWorklist(claims *models.JWTClaims, role models.ApprovalRole) bool {
	if claims == nil {
		return false
	}
	if claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin {
		return true
	}
	return claims.HasApprovalRole(role)
}

// Statistics godoc
// @Summary Request counters by status and type
// @Tags Request Workflow
// @Produce json
// @Param department_id query int false "Department ID"
// @Param college_id query int false "College ID"
// @Success 200 {object} response.Envelope
// @Router /requests/statistics [get]
func (h *RequestHandler) Statistics(c *gin.Context) {
	var query dto.StatisticsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	stats, hit, err := h.workflow.GetRequestStatistics(c.Request.Context(), models.StatisticsFilter{
		DepartmentID: query.DepartmentID,
		CollegeID:    query.CollegeID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}
