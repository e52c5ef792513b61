package handler

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sis-request-api/internal/dto"
	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/service"
	"github.com/noah-isme/sis-request-api/internal/workflow"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/response"
)

type requestFormService interface {
	Create(ctx context.Context, req service.CreateRequestFormRequest, actor models.Actor) (*models.RequestFormDetail, error)
	Update(ctx context.Context, id int64, req service.UpdateRequestFormRequest, actor models.Actor) (*models.RequestFormDetail, error)
	Delete(ctx context.Context, id int64, actor models.Actor) error
	Get(ctx context.Context, id int64, actor models.Actor) (*models.RequestFormDetail, error)
	GetByNumber(ctx context.Context, number string, actor models.Actor) (*models.RequestFormDetail, error)
	List(ctx context.Context, filter models.RequestFormFilter, actor models.Actor) ([]models.RequestForm, *models.Pagination, error)
	DecideCourse(ctx context.Context, formID, itemID int64, req service.LineItemDecisionRequest, actor models.Actor) (*models.RequestCourse, error)
	DecideEquivalency(ctx context.Context, formID, itemID int64, req service.LineItemDecisionRequest, actor models.Actor) (*models.RequestEquivalency, error)
	History(ctx context.Context, id int64, actor models.Actor) ([]models.AuditLog, error)
}

type requestWorkflowService interface {
	SubmitOrResubmit(ctx context.Context, formID int64, status models.RequestStatus, actor models.Actor) (*service.TransitionResult, error)
	ApproveStep(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, comments *string) (*service.TransitionResult, error)
	RejectStep(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, reason string, comments *string) (*service.TransitionResult, error)
	ReturnForRevision(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, comments *string) (*service.TransitionResult, error)
	CancelRequest(ctx context.Context, formID int64, actor models.Actor) (*service.TransitionResult, error)
	CompleteRequest(ctx context.Context, formID int64, actor models.Actor) (*service.TransitionResult, error)
	GetPendingRequestsForRole(ctx context.Context, filter models.PendingRequestFilter) ([]models.RequestForm, error)
	GetRequestStatistics(ctx context.Context, filter models.StatisticsFilter) (*models.RequestStatistics, bool, error)
}

type requestExporter interface {
	Export(ctx context.Context, filter models.RequestFormFilter, format string, actor models.Actor) (*service.ExportFile, error)
}

type requestTypeCatalog interface {
	Summaries() []models.RequestTypeSummary
	Schema(code string) (*models.RequestTypeSchema, error)
}

// RequestHandler exposes the student request endpoints.
type RequestHandler struct {
	forms       requestFormService
	workflow    requestWorkflowService
	attachments requestAttachmentService
	catalog     requestTypeCatalog
	exporter    requestExporter
}

// NewRequestHandler builds a new handler.
func NewRequestHandler(forms requestFormService, wf requestWorkflowService, attachments requestAttachmentService, catalog requestTypeCatalog) *RequestHandler {
	return &RequestHandler{forms: forms, workflow: wf, attachments: attachments, catalog: catalog}
}

// WithExporter enables the export endpoint.
func (h *RequestHandler) WithExporter(exporter requestExporter) *RequestHandler {
	h.exporter = exporter
	return h
}

// Types godoc
// @Summary List request types and their approval chains
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/types [get]
func (h *RequestHandler) Types(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.catalog.Summaries(), nil)
}

// Schema godoc
// @Summary Get the form schema of a request type
// @Tags Requests
// @Produce json
// @Param code path string true "Request type code"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests/types/{code}/schema [get]
func (h *RequestHandler) Schema(c *gin.Context) {
	schema, err := h.catalog.Schema(strings.ToUpper(c.Param("code")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schema, nil)
}

// List godoc
// @Summary List student requests
// @Tags Requests
// @Produce json
// @Param request_type query string false "Request type"
// @Param status query string false "Comma separated statuses"
// @Param student_id query int false "Student ID (staff only)"
// @Param department_id query int false "Department ID"
// @Param college_id query int false "College ID"
// @Param search query string false "Request number search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var query dto.RequestListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.forms.List(c.Request.Context(), listFilter(query), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Create godoc
// @Summary Create a request draft, optionally submitting it
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.CreateRequestFormRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req service.CreateRequestFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	detail, err := h.forms.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.Submit {
		response.WithMessage(c, http.StatusCreated, detail, "Request submitted", "تم تقديم الطلب")
		return
	}
	response.WithMessage(c, http.StatusCreated, detail, "Request saved as draft", "تم حفظ الطلب كمسودة")
}

// Get godoc
// @Summary Get a request with its approval steps and attachments
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	detail, err := h.forms.Get(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// GetByNumber godoc
// @Summary Look up a request by its number
// @Tags Requests
// @Produce json
// @Param number path string true "Request number, e.g. EX-2026-00001"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /requests/number/{number} [get]
func (h *RequestHandler) GetByNumber(c *gin.Context) {
	detail, err := h.forms.GetByNumber(c.Request.Context(), c.Param("number"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Update godoc
// @Summary Update a draft or returned request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param payload body service.UpdateRequestFormRequest true "Request payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /requests/{id} [put]
func (h *RequestHandler) Update(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateRequestFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request payload"))
		return
	}
	detail, err := h.forms.Update(c.Request.Context(), id, req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, detail, "Request updated", "تم تحديث الطلب")
}

// Delete godoc
// @Summary Delete a draft request
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.forms.Delete(c.Request.Context(), id, actorFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, nil, "Request deleted", "تم حذف الطلب")
}

// History godoc
// @Summary List the audit trail of a request
// @Tags Requests
// @Produce json
// @Param id path int true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/history [get]
func (h *RequestHandler) History(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.forms.History(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// DecideCourse godoc
// @Summary Approve or reject one requested course
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param itemId path int true "Course line ID"
// @Param payload body service.LineItemDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/courses/{itemId}/decision [post]
func (h *RequestHandler) DecideCourse(c *gin.Context) {
	formID, itemID, req, ok := h.bindDecision(c)
	if !ok {
		return
	}
	item, err := h.forms.DecideCourse(c.Request.Context(), formID, itemID, req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, item, "Decision recorded", "تم تسجيل القرار")
}

// DecideEquivalency godoc
// @Summary Approve or reject one equivalency row
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path int true "Request ID"
// @Param itemId path int true "Equivalency line ID"
// @Param payload body service.LineItemDecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/equivalencies/{itemId}/decision [post]
func (h *RequestHandler) DecideEquivalency(c *gin.Context) {
	formID, itemID, req, ok := h.bindDecision(c)
	if !ok {
		return
	}
	item, err := h.forms.DecideEquivalency(c.Request.Context(), formID, itemID, req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.WithMessage(c, http.StatusOK, item, "Decision recorded", "تم تسجيل القرار")
}

func (h *RequestHandler) bindDecision(c *gin.Context) (int64, int64, service.LineItemDecisionRequest, bool) {
	var req service.LineItemDecisionRequest
	formID, err := idParam(c, "id")
	if err != nil {
		response.Error(c, err)
		return 0, 0, req, false
	}
	itemID, err := idParam(c, "itemId")
	if err != nil {
		response.Error(c, err)
		return 0, 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return 0, 0, req, false
	}
	return formID, itemID, req, true
}

// Export godoc
// @Summary Export the filtered request list as CSV or PDF
// @Tags Requests
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param request_type query string false "Request type code"
// @Param status query string false "Comma separated statuses"
// @Param department_id query int false "Department ID"
// @Param college_id query int false "College ID"
// @Param search query string false "Request number or reason"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /requests/export [get]
func (h *RequestHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export is not enabled"))
		return
	}
	var query dto.RequestExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	file, err := h.exporter.Export(c.Request.Context(), listFilter(query.RequestListQuery), query.Format, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.FileName}))
	c.Header("Cache-Control", "private, no-store")
	c.Header("X-Export-Rows", strconv.Itoa(file.Rows))
	if file.Truncated {
		c.Header("X-Export-Truncated", "true")
	}
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

func listFilter(query dto.RequestListQuery) models.RequestFormFilter {
	filter := models.RequestFormFilter{
		StudentID:    query.StudentID,
		RequestType:  strings.ToUpper(strings.TrimSpace(query.RequestType)),
		DepartmentID: query.DepartmentID,
		CollegeID:    query.CollegeID,
		Search:       strings.TrimSpace(query.Search),
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	for _, s := range strings.Split(query.Status, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			filter.Status = append(filter.Status, models.RequestStatus(s))
		}
	}
	return filter
}
