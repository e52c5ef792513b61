package service

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/registry"
	"github.com/noah-isme/sis-request-api/internal/repository"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

type requestFormStore interface {
	Create(ctx context.Context, form *models.RequestForm, courses []models.RequestCourse, equivalencies []models.RequestEquivalency) error
	UpdateDraft(ctx context.Context, form *models.RequestForm, courses []models.RequestCourse, equivalencies []models.RequestEquivalency) error
	DeleteDraft(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*models.RequestForm, error)
	GetByNumber(ctx context.Context, number string) (*models.RequestForm, error)
	List(ctx context.Context, filter models.RequestFormFilter) ([]models.RequestForm, int, error)
	ListSteps(ctx context.Context, formID int64) ([]models.ApprovalStep, error)
	ListCourses(ctx context.Context, formID int64) ([]models.RequestCourse, error)
	ListEquivalencies(ctx context.Context, formID int64) ([]models.RequestEquivalency, error)
	DecideCourse(ctx context.Context, formID, itemID int64, decision models.LineItemDecision) (*models.RequestCourse, error)
	DecideEquivalency(ctx context.Context, formID, itemID int64, decision models.LineItemDecision) (*models.RequestEquivalency, error)
}

type referenceChecker interface {
	Exists(ctx context.Context, kind models.ReferenceKind, id int64) (bool, error)
}

type studentResolver interface {
	GetStudent(ctx context.Context, id int64) (*models.StudentRef, error)
	GetStudentByUserID(ctx context.Context, userID string) (*models.StudentRef, error)
}

type attachmentCatalog interface {
	ListByForm(ctx context.Context, formID int64) ([]models.Attachment, error)
}

type auditTrail interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// CreateRequestFormRequest is the payload for filing a new request.
type CreateRequestFormRequest struct {
	RequestType  string            `json:"request_type" validate:"required"`
	StudentID    *int64            `json:"student_id" validate:"omitempty,gt=0"`
	Fields       models.FormFields `json:"fields"`
	Reason       *string           `json:"reason" validate:"omitempty,max=2000"`
	StudentNotes *string           `json:"student_notes" validate:"omitempty,max=2000"`
	Submit       bool              `json:"submit"`
}

// UpdateRequestFormRequest replaces the editable data of a draft or returned request.
type UpdateRequestFormRequest struct {
	Fields       models.FormFields `json:"fields"`
	Reason       *string           `json:"reason" validate:"omitempty,max=2000"`
	StudentNotes *string           `json:"student_notes" validate:"omitempty,max=2000"`
	Version      int               `json:"version" validate:"omitempty,gt=0"`
}

// LineItemDecisionRequest decides one course or equivalency row.
type LineItemDecisionRequest struct {
	Status          models.LineItemStatus `json:"status" validate:"required"`
	RejectionReason *string               `json:"rejection_reason" validate:"omitempty,max=1000"`
}

// RequestFormService manages the data side of student requests: drafts, line items and lookups.
type RequestFormService struct {
	repo        requestFormStore
	registry    *registry.Registry
	references  referenceChecker
	students    studentResolver
	attachments attachmentCatalog
	blobs       *RequestAttachmentService
	workflow    *RequestWorkflowService
	audit       auditLogger
	trail       auditTrail
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// RequestFormDeps groups the collaborators of RequestFormService.
type RequestFormDeps struct {
	Repo        requestFormStore
	Registry    *registry.Registry
	References  referenceChecker
	Students    studentResolver
	Attachments attachmentCatalog
	Blobs       *RequestAttachmentService
	Workflow    *RequestWorkflowService
	Audit       auditLogger
	Trail       auditTrail
	Cache       *CacheService
}

// NewRequestFormService constructs the service.
func NewRequestFormService(deps RequestFormDeps, validate *validator.Validate, logger *zap.Logger) *RequestFormService {
	if validate == nil {
		validate = validator.New()
		validate.RegisterTagNameFunc(jsonFieldName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestFormService{
		repo:        deps.Repo,
		registry:    deps.Registry,
		references:  deps.References,
		students:    deps.Students,
		attachments: deps.Attachments,
		blobs:       deps.Blobs,
		workflow:    deps.Workflow,
		audit:       deps.Audit,
		trail:       deps.Trail,
		cache:       deps.Cache,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}

func (s *RequestFormService) validatePayload(payload interface{}) error {
	err := s.validator.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	problems := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems[fe.Field()] = "is required"
		case "max":
			problems[fe.Field()] = "must be at most " + fe.Param() + " characters"
		default:
			problems[fe.Field()] = "failed " + fe.Tag() + " validation"
		}
	}
	return appErrors.WithFields(appErrors.ErrValidation, problems)
}

// prepareFields validates draft values, reference ids and line items of a request type.
func (s *RequestFormService) prepareFields(ctx context.Context, requestType string, fields models.FormFields) (models.FormFields, []models.RequestCourse, []models.RequestEquivalency, error) {
	normalized, problems, err := s.registry.ValidateFields(requestType, fields, false)
	if err != nil {
		return nil, nil, nil, err
	}
	if !problems.Empty() {
		return nil, nil, nil, appErrors.WithFields(appErrors.ErrValidation, problems)
	}

	refs, err := s.registry.References(requestType, normalized)
	if err != nil {
		return nil, nil, nil, err
	}
	missing := map[string]string{}
	if s.references != nil {
		for _, ref := range refs {
			ok, err := s.references.Exists(ctx, ref.Kind, ref.ID)
			if err != nil {
				return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check reference data")
			}
			if !ok {
				missing[ref.Field] = "references an unknown " + string(ref.Kind)
			}
		}
	}
	if len(missing) > 0 {
		return nil, nil, nil, appErrors.WithFields(appErrors.ErrValidation, missing)
	}

	selections, rows, err := s.registry.LineItems(requestType, normalized)
	if err != nil {
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid line items")
	}
	courses := make([]models.RequestCourse, 0, len(selections))
	for _, sel := range selections {
		courses = append(courses, models.RequestCourse{
			CourseID: sel.CourseID,
			Section:  optionalString(sel.Section),
			Reason:   optionalString(sel.Reason),
			Status:   models.LineItemPending,
		})
	}
	equivalencies := make([]models.RequestEquivalency, 0, len(rows))
	for _, row := range rows {
		equivalencies = append(equivalencies, models.RequestEquivalency{
			TargetCourseID:     row.TargetCourseID,
			SourceCourseCode:   row.SourceCourseCode,
			SourceCourseNameAr: optionalString(row.SourceCourseNameAr),
			SourceCourseNameEn: optionalString(row.SourceCourseNameEn),
			SourceCredits:      row.SourceCredits,
			SourceGrade:        optionalString(row.SourceGrade),
			Status:             models.LineItemPending,
		})
	}
	return normalized, courses, equivalencies, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// resolveStudent attributes a new request. Students always file for themselves.
func (s *RequestFormService) resolveStudent(ctx context.Context, requested *int64, actor models.Actor) (*models.StudentRef, error) {
	var (
		ref *models.StudentRef
		err error
	)
	switch {
	case actor.IsStudent() && actor.StudentID != nil:
		ref, err = s.students.GetStudent(ctx, *actor.StudentID)
	case actor.IsStudent():
		ref, err = s.students.GetStudentByUserID(ctx, actor.UserID)
	case requested != nil:
		ref, err = s.students.GetStudent(ctx, *requested)
	default:
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"student_id": "is required"})
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"student_id": "unknown student"})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	return ref, nil
}

func programFrom(fields models.FormFields, fallback *int64) *int64 {
	if v, ok := fields["program_id"]; ok {
		switch id := v.(type) {
		case int64:
			return &id
		case float64:
			n := int64(id)
			return &n
		}
	}
	return fallback
}

// Create stores a new draft and optionally submits it right away. A failed
// submission leaves the draft in place and returns the submission error
// carrying the draft id, so the client can fix and resubmit it.
func (s *RequestFormService) Create(ctx context.Context, req CreateRequestFormRequest, actor models.Actor) (*models.RequestFormDetail, error) {
	req.RequestType = strings.ToUpper(strings.TrimSpace(req.RequestType))
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}
	if !s.registry.Has(req.RequestType) {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"request_type": "unknown request type"})
	}
	fields, courses, equivalencies, err := s.prepareFields(ctx, req.RequestType, req.Fields)
	if err != nil {
		return nil, err
	}
	student, err := s.resolveStudent(ctx, req.StudentID, actor)
	if err != nil {
		return nil, err
	}

	form := &models.RequestForm{
		StudentID:    student.ID,
		RequestType:  req.RequestType,
		DepartmentID: student.DepartmentID,
		CollegeID:    student.CollegeID,
		ProgramID:    programFrom(fields, student.ProgramID),
		Fields:       fields,
		Status:       models.RequestStatusDraft,
		Reason:       req.Reason,
		StudentNotes: req.StudentNotes,
		CreatedBy:    actor.UserID,
	}
	if err := s.repo.Create(ctx, form, courses, equivalencies); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionRequestCreate, form.ID, nil,
		map[string]interface{}{"request_type": form.RequestType, "student_id": form.StudentID, "fields": form.Fields})
	s.cache.Invalidate(ctx, statisticsCachePattern)
	s.logger.Info("request draft created", zap.Int64("request_id", form.ID), zap.String("request_type", form.RequestType))

	if req.Submit {
		res, err := s.workflow.SubmitRequest(ctx, form.ID, actor)
		if err == nil && !res.Applied() {
			err = RejectionError(res.Rejection)
		}
		if err != nil {
			return nil, appErrors.WithResourceID(err, form.ID)
		}
	}
	return s.detail(ctx, form.ID)
}

// Update replaces the editable data of a draft or returned request.
func (s *RequestFormService) Update(ctx context.Context, id int64, req UpdateRequestFormRequest, actor models.Actor) (*models.RequestFormDetail, error) {
	if err := s.validatePayload(req); err != nil {
		return nil, err
	}
	form, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !form.Status.IsEditable() {
		return nil, appErrors.Clone(appErrors.ErrRequestNotEditable, "")
	}
	if req.Version != 0 && req.Version != form.Version {
		return nil, appErrors.Clone(appErrors.ErrConcurrentUpdate, "")
	}
	fields, courses, equivalencies, err := s.prepareFields(ctx, form.RequestType, req.Fields)
	if err != nil {
		return nil, err
	}

	previous := form.Fields
	form.Fields = fields
	form.ProgramID = programFrom(fields, form.ProgramID)
	form.Reason = req.Reason
	form.StudentNotes = req.StudentNotes
	if err := s.repo.UpdateDraft(ctx, form, courses, equivalencies); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrConcurrentUpdate, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionRequestUpdate, form.ID,
		map[string]interface{}{"fields": previous}, map[string]interface{}{"fields": form.Fields})
	return s.detail(ctx, form.ID)
}

// Delete removes a draft together with its stored documents.
func (s *RequestFormService) Delete(ctx context.Context, id int64, actor models.Actor) error {
	form, err := s.load(ctx, id, actor)
	if err != nil {
		return err
	}
	if form.Status != models.RequestStatusDraft {
		return appErrors.CloneBilingual(appErrors.ErrRequestNotEditable, "only draft requests can be deleted", "لا يمكن حذف الطلب بعد تقديمه")
	}
	attachments, err := s.attachments.ListByForm(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	if err := s.repo.DeleteDraft(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConcurrentUpdate, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	if s.blobs != nil {
		s.blobs.RemoveAll(ctx, attachments)
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionRequestDelete, id,
		map[string]interface{}{"request_type": form.RequestType, "status": form.Status}, nil)
	s.cache.Invalidate(ctx, statisticsCachePattern)
	return nil
}

func (s *RequestFormService) load(ctx context.Context, id int64, actor models.Actor) (*models.RequestForm, error) {
	form, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := authorizeOwner(actor, form); err != nil {
		return nil, err
	}
	return form, nil
}

// Get returns a request with its ledger, attachments and line items.
func (s *RequestFormService) Get(ctx context.Context, id int64, actor models.Actor) (*models.RequestFormDetail, error) {
	if _, err := s.load(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.detail(ctx, id)
}

// GetByNumber looks a request up by its public number.
func (s *RequestFormService) GetByNumber(ctx context.Context, number string, actor models.Actor) (*models.RequestFormDetail, error) {
	form, err := s.repo.GetByNumber(ctx, strings.ToUpper(strings.TrimSpace(number)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := authorizeOwner(actor, form); err != nil {
		return nil, err
	}
	return s.detail(ctx, form.ID)
}

func (s *RequestFormService) detail(ctx context.Context, id int64) (*models.RequestFormDetail, error) {
	form, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	detail := &models.RequestFormDetail{RequestForm: *form, StatusLabel: form.Status.Label()}
	if t, err := s.registry.Lookup(form.RequestType); err == nil {
		detail.TypeNameAr = t.NameAr
		detail.TypeNameEn = t.NameEn
	}
	if detail.Steps, err = s.repo.ListSteps(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval steps")
	}
	if detail.Attachments, err = s.attachments.ListByForm(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachments")
	}
	if detail.Courses, err = s.repo.ListCourses(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load courses")
	}
	if detail.Equivalencies, err = s.repo.ListEquivalencies(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load equivalencies")
	}
	if detail.Steps == nil {
		detail.Steps = []models.ApprovalStep{}
	}
	if detail.Attachments == nil {
		detail.Attachments = []models.Attachment{}
	}
	return detail, nil
}

// List returns a page of requests. Students only ever see their own.
func (s *RequestFormService) List(ctx context.Context, filter models.RequestFormFilter, actor models.Actor) ([]models.RequestForm, *models.Pagination, error) {
	if actor.IsStudent() {
		if actor.StudentID == nil {
			return []models.RequestForm{}, &models.Pagination{Page: 1, PageSize: filter.PageSize}, nil
		}
		id := *actor.StudentID
		filter.StudentID = &id
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	filter.RequestType = strings.ToUpper(strings.TrimSpace(filter.RequestType))
	forms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	if forms == nil {
		forms = []models.RequestForm{}
	}
	return forms, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *RequestFormService) decisionFor(ctx context.Context, formID int64, req LineItemDecisionRequest, actor models.Actor) (models.LineItemDecision, error) {
	if !actor.Role.IsStaff() {
		return models.LineItemDecision{}, appErrors.Clone(appErrors.ErrForbidden, "only staff can decide line items")
	}
	if err := s.validatePayload(req); err != nil {
		return models.LineItemDecision{}, err
	}
	req.Status = models.LineItemStatus(strings.ToUpper(string(req.Status)))
	if req.Status != models.LineItemApproved && req.Status != models.LineItemRejected {
		return models.LineItemDecision{}, appErrors.Clone(appErrors.ErrInvalidDecisionStatus, "")
	}
	reason := req.RejectionReason
	if req.Status == models.LineItemRejected {
		if reason == nil || strings.TrimSpace(*reason) == "" {
			return models.LineItemDecision{}, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"rejection_reason": "is required"})
		}
	} else {
		reason = nil
	}
	form, err := s.load(ctx, formID, actor)
	if err != nil {
		return models.LineItemDecision{}, err
	}
	if !form.Status.IsPendingApproval() && form.Status != models.RequestStatusApproved {
		return models.LineItemDecision{}, appErrors.Clone(appErrors.ErrLineItemNotDecidable, "")
	}
	return models.LineItemDecision{
		Status:          req.Status,
		RejectionReason: reason,
		ReviewedBy:      actor.UserID,
		ReviewedAt:      s.now().UTC(),
	}, nil
}

// DecideCourse records the disposition of one course line item.
func (s *RequestFormService) DecideCourse(ctx context.Context, formID, itemID int64, req LineItemDecisionRequest, actor models.Actor) (*models.RequestCourse, error) {
	decision, err := s.decisionFor(ctx, formID, req, actor)
	if err != nil {
		return nil, err
	}
	course, err := s.repo.DecideCourse(ctx, formID, itemID, decision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide course item")
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionLineItemDecision, formID, nil,
		map[string]interface{}{"item": "course", "item_id": itemID, "status": decision.Status, "rejection_reason": decision.RejectionReason})
	return course, nil
}

// DecideEquivalency records the disposition of one equivalency line item.
func (s *RequestFormService) DecideEquivalency(ctx context.Context, formID, itemID int64, req LineItemDecisionRequest, actor models.Actor) (*models.RequestEquivalency, error) {
	decision, err := s.decisionFor(ctx, formID, req, actor)
	if err != nil {
		return nil, err
	}
	row, err := s.repo.DecideEquivalency(ctx, formID, itemID, decision)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "equivalency item not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to decide equivalency item")
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionLineItemDecision, formID, nil,
		map[string]interface{}{"item": "equivalency", "item_id": itemID, "status": decision.Status, "rejection_reason": decision.RejectionReason})
	return row, nil
}

// History returns the audit trail of a request, oldest first.
func (s *RequestFormService) History(ctx context.Context, id int64, actor models.Actor) ([]models.AuditLog, error) {
	if _, err := s.load(ctx, id, actor); err != nil {
		return nil, err
	}
	logs, err := s.trail.ListByResource(ctx, models.AuditResourceRequestForm, strconv.FormatInt(id, 10), 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request history")
	}
	if logs == nil {
		logs = []models.AuditLog{}
	}
	return logs, nil
}
