package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/registry"
	"github.com/noah-isme/sis-request-api/internal/repository"
	"github.com/noah-isme/sis-request-api/internal/workflow"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/logger"
)

// Workflow actions, used for audit entries and metrics labels.
const (
	ActionSubmit   = "submit"
	ActionResubmit = "resubmit"
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionReturn   = "return_for_revision"
	ActionCancel   = "cancel"
	ActionComplete = "complete"
)

const statisticsCachePattern = "requests:stats:*"

type requestTransitionStore interface {
	Transition(ctx context.Context, id int64, fn repository.TransitionFunc) error
	ListPendingForRole(ctx context.Context, filter models.PendingRequestFilter) ([]models.RequestForm, error)
	Statistics(ctx context.Context, filter models.StatisticsFilter) (*models.RequestStatistics, error)
}

type studentDirectory interface {
	GetStudent(ctx context.Context, id int64) (*models.StudentRef, error)
}

// TransitionResult reports the outcome of a workflow operation. A non-nil Rejection means
// nothing was written and Form reflects the unchanged state.
type TransitionResult struct {
	Form      *models.RequestForm
	Steps     []models.ApprovalStep
	Rejection *workflow.Rejection
}

// Applied reports whether the transition was committed.
func (r *TransitionResult) Applied() bool {
	return r != nil && r.Rejection == nil
}

// RejectionError converts a soft workflow refusal into the WORKFLOW_REJECTED error.
func RejectionError(r *workflow.Rejection) error {
	if r == nil {
		return nil
	}
	return appErrors.WithReason(appErrors.ErrWorkflowRejected, string(r.Code), r.MessageEn, r.MessageAr)
}

// RequestWorkflowService drives student requests through their approval chain.
type RequestWorkflowService struct {
	store    requestTransitionStore
	registry *registry.Registry
	audit    auditLogger
	notifier Notifier
	students studentDirectory
	cache    *CacheService
	metrics  *MetricsService
	statsTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// RequestWorkflowOption configures the workflow service.
type RequestWorkflowOption func(*RequestWorkflowService)

// WithWorkflowNotifier sets the notification sink.
func WithWorkflowNotifier(n Notifier) RequestWorkflowOption {
	return func(s *RequestWorkflowService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithWorkflowStudentDirectory resolves the login account of a request's student for notifications.
func WithWorkflowStudentDirectory(d studentDirectory) RequestWorkflowOption {
	return func(s *RequestWorkflowService) {
		s.students = d
	}
}

// WithWorkflowCache enables statistics caching.
func WithWorkflowCache(cache *CacheService, ttl time.Duration) RequestWorkflowOption {
	return func(s *RequestWorkflowService) {
		s.cache = cache
		s.statsTTL = ttl
	}
}

// WithWorkflowMetrics records transition counters.
func WithWorkflowMetrics(m *MetricsService) RequestWorkflowOption {
	return func(s *RequestWorkflowService) {
		s.metrics = m
	}
}

// WithWorkflowClock overrides the time source.
func WithWorkflowClock(now func() time.Time) RequestWorkflowOption {
	return func(s *RequestWorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRequestWorkflowService constructs the service.
func NewRequestWorkflowService(store requestTransitionStore, reg *registry.Registry, audit auditLogger, logger *zap.Logger, opts ...RequestWorkflowOption) *RequestWorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestWorkflowService{
		store:    store,
		registry: reg,
		audit:    audit,
		notifier: NewLogNotifier(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// FormatRequestNumber renders the public identifier PREFIX-YEAR-NNNNN.
func FormatRequestNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

type transitionFunc func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error)

type transitionEvent struct {
	action   string
	actorID  string
	template string
	comments *string
}

func (s *RequestWorkflowService) transition(ctx context.Context, formID int64, event transitionEvent, apply transitionFunc) (*TransitionResult, error) {
	result := &TransitionResult{}
	var previous models.RequestStatus
	err := s.store.Transition(ctx, formID, func(ctx context.Context, tx repository.TransitionTx, state *repository.TransitionState) (bool, error) {
		previous = state.Form.Status
		machine, err := workflow.NewMachine(state.Form, state.Steps, s.now)
		if err != nil {
			return false, err
		}
		rejection, err := apply(ctx, tx, machine)
		if err != nil {
			return false, err
		}
		result.Form = state.Form
		if rejection != nil {
			result.Rejection = rejection
			result.Steps = state.Steps
			return false, nil
		}
		state.Steps = machine.Steps()
		result.Steps = state.Steps
		return true, nil
	})
	if err != nil {
		return nil, s.translateStoreError(err, event.action)
	}
	if result.Rejection != nil {
		s.metrics.RecordRejection(event.action, string(result.Rejection.Code))
		logger.WithContext(ctx, s.logger).Info("workflow transition refused",
			zap.Int64("request_id", formID),
			zap.String("action", event.action),
			zap.String("code", string(result.Rejection.Code)),
		)
		return result, nil
	}
	s.afterCommit(ctx, event, previous, result)
	return result, nil
}

func (s *RequestWorkflowService) translateStoreError(err error, action string) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "request not found")
	case errors.Is(err, repository.ErrVersionConflict):
		return appErrors.Clone(appErrors.ErrConcurrentUpdate, "")
	default:
		s.logger.Error("workflow transition failed", zap.String("action", action), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply workflow transition")
	}
}

func (s *RequestWorkflowService) afterCommit(ctx context.Context, event transitionEvent, previous models.RequestStatus, result *TransitionResult) {
	form := result.Form
	s.metrics.RecordTransition(event.action, string(form.Status))
	writeAudit(ctx, s.audit, s.logger, event.actorID, models.AuditActionRequestTransition, form.ID,
		map[string]interface{}{"status": previous},
		map[string]interface{}{"action": event.action, "status": form.Status, "current_step": form.CurrentStep, "comments": event.comments},
	)
	s.cache.Invalidate(ctx, statisticsCachePattern)
	logger.WithContext(ctx, s.logger).Info("workflow transition applied",
		zap.Int64("request_id", form.ID),
		zap.String("action", event.action),
		zap.String("from", string(previous)),
		zap.String("to", string(form.Status)),
		zap.Int("current_step", form.CurrentStep),
	)
	if event.template != "" {
		s.notifyStudent(ctx, form, event.template, event.comments)
	}
}

func (s *RequestWorkflowService) notifyStudent(ctx context.Context, form *models.RequestForm, template string, comments *string) {
	recipient := form.CreatedBy
	if s.students != nil {
		if ref, err := s.students.GetStudent(ctx, form.StudentID); err == nil && ref.UserID != "" {
			recipient = ref.UserID
		}
	}
	label := form.Status.Label()
	payload := map[string]interface{}{
		"request_id":      form.ID,
		"request_type":    form.RequestType,
		"status":          form.Status,
		"status_label_ar": label.Ar,
		"status_label_en": label.En,
	}
	if form.RequestNumber != nil {
		payload["request_number"] = *form.RequestNumber
	}
	if comments != nil {
		payload["comments"] = *comments
	}
	if form.RejectionReason != nil && form.Status == models.RequestStatusRejected {
		payload["rejection_reason"] = *form.RejectionReason
	}
	if err := s.notifier.Notify(ctx, recipient, template, payload); err != nil {
		s.logger.Warn("failed to dispatch notification", zap.String("template", template), zap.Int64("request_id", form.ID), zap.Error(err))
	}
}

func authorizeOwner(actor models.Actor, form *models.RequestForm) error {
	if actor.IsStudent() && !actor.Owns(form.StudentID) {
		return appErrors.Clone(appErrors.ErrForbidden, "request belongs to another student")
	}
	return nil
}

// validateForSubmission checks required fields and attachments. It returns a
// field-by-field validation error.
func (s *RequestWorkflowService) validateForSubmission(ctx context.Context, tx repository.TransitionTx, form *models.RequestForm) error {
	if !s.registry.Has(form.RequestType) {
		return appErrors.Wrap(fmt.Errorf("request %d has type %q", form.ID, form.RequestType),
			appErrors.ErrUnknownRequestType.Code, appErrors.ErrInternal.Status, "stored request references an unregistered type")
	}
	_, fieldErrs, err := s.registry.ValidateFields(form.RequestType, form.Fields, true)
	if err != nil {
		return err
	}
	problems := map[string]string{}
	for k, v := range fieldErrs {
		problems[k] = v
	}

	present, err := tx.AttachmentTypes(ctx, form.ID)
	if err != nil {
		return err
	}
	missing, err := s.registry.MissingAttachments(form.RequestType, present)
	if err != nil {
		return err
	}
	for _, t := range missing {
		problems["attachments."+string(t)] = "is required"
	}
	if len(problems) > 0 {
		return appErrors.WithFields(appErrors.ErrValidation, problems)
	}
	return nil
}

// SubmitRequest moves a draft into its approval workflow.
func (s *RequestWorkflowService) SubmitRequest(ctx context.Context, formID int64, actor models.Actor) (*TransitionResult, error) {
	event := transitionEvent{action: ActionSubmit, actorID: actor.UserID, template: NotificationRequestSubmitted}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		form := m.Form()
		if err := authorizeOwner(actor, form); err != nil {
			return nil, err
		}
		if rejection := m.CanSubmit(); rejection != nil {
			return rejection, nil
		}
		if err := s.validateForSubmission(ctx, tx, form); err != nil {
			return nil, err
		}
		roles, err := s.registry.ResolveWorkflow(form.RequestType)
		if err != nil {
			return nil, err
		}
		prefix, err := s.registry.Prefix(form.RequestType)
		if err != nil {
			return nil, err
		}
		year := s.now().UTC().Year()
		seq, err := tx.NextSequence(ctx, prefix, year)
		if err != nil {
			return nil, err
		}
		return m.Submit(roles, FormatRequestNumber(prefix, year, seq), s.registry.RoleLabel), nil
	})
}

// ResubmitRequest re-activates the returned step of a revised request.
func (s *RequestWorkflowService) ResubmitRequest(ctx context.Context, formID int64, actor models.Actor) (*TransitionResult, error) {
	event := transitionEvent{action: ActionResubmit, actorID: actor.UserID, template: NotificationRequestResubmitted}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		form := m.Form()
		if err := authorizeOwner(actor, form); err != nil {
			return nil, err
		}
		if form.Status != models.RequestStatusReturned {
			return m.Resubmit(), nil
		}
		if err := s.validateForSubmission(ctx, tx, form); err != nil {
			return nil, err
		}
		return m.Resubmit(), nil
	})
}

// SubmitOrResubmit submits a draft, or resubmits a request returned for revision.
func (s *RequestWorkflowService) SubmitOrResubmit(ctx context.Context, formID int64, status models.RequestStatus, actor models.Actor) (*TransitionResult, error) {
	if status == models.RequestStatusReturned {
		return s.ResubmitRequest(ctx, formID, actor)
	}
	return s.SubmitRequest(ctx, formID, actor)
}

// ApproveStep records approval of the current step.
func (s *RequestWorkflowService) ApproveStep(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, comments *string) (*TransitionResult, error) {
	event := transitionEvent{action: ActionApprove, actorID: assertion.ApproverID, comments: comments}
	result, err := s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		return m.Approve(assertion, comments), nil
	})
	if err != nil || !result.Applied() {
		return result, err
	}
	template := NotificationStepApproved
	if result.Form.Status == models.RequestStatusApproved {
		template = NotificationRequestApproved
	}
	s.notifyStudent(ctx, result.Form, template, comments)
	return result, nil
}

// RejectStep terminates the request at the current step.
func (s *RequestWorkflowService) RejectStep(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, reason string, comments *string) (*TransitionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"reason": "is required"})
	}
	event := transitionEvent{action: ActionReject, actorID: assertion.ApproverID, template: NotificationRequestRejected, comments: comments}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		return m.Reject(assertion, reason, comments), nil
	})
}

// ReturnForRevision hands the request back to the student. The comments tell
// the student what to revise and become the form's admin notes.
func (s *RequestWorkflowService) ReturnForRevision(ctx context.Context, formID int64, assertion workflow.ApproverAssertion, comments *string) (*TransitionResult, error) {
	if comments == nil || strings.TrimSpace(*comments) == "" {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"comments": "is required"})
	}
	note := strings.TrimSpace(*comments)
	comments = &note
	event := transitionEvent{action: ActionReturn, actorID: assertion.ApproverID, template: NotificationRequestReturned, comments: comments}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		return m.ReturnForRevision(assertion, comments), nil
	})
}

// CancelRequest withdraws a request that has no final decision yet.
func (s *RequestWorkflowService) CancelRequest(ctx context.Context, formID int64, actor models.Actor) (*TransitionResult, error) {
	event := transitionEvent{action: ActionCancel, actorID: actor.UserID, template: NotificationRequestCancelled}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		if err := authorizeOwner(actor, m.Form()); err != nil {
			return nil, err
		}
		return m.Cancel(), nil
	})
}

// CompleteRequest marks an approved request as executed by the registrar.
func (s *RequestWorkflowService) CompleteRequest(ctx context.Context, formID int64, actor models.Actor) (*TransitionResult, error) {
	if !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can complete requests")
	}
	event := transitionEvent{action: ActionComplete, actorID: actor.UserID, template: NotificationRequestCompleted}
	return s.transition(ctx, formID, event, func(ctx context.Context, tx repository.TransitionTx, m *workflow.Machine) (*workflow.Rejection, error) {
		return m.Complete(), nil
	})
}

// GetPendingRequestsForRole lists requests waiting on role, oldest submission first.
func (s *RequestWorkflowService) GetPendingRequestsForRole(ctx context.Context, filter models.PendingRequestFilter) ([]models.RequestForm, error) {
	filter.Role = models.ApprovalRole(strings.ToUpper(strings.TrimSpace(string(filter.Role))))
	if filter.Role == "" {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"role": "is required"})
	}
	if !s.registry.KnownRole(filter.Role) {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"role": "unknown approval role"})
	}
	forms, err := s.store.ListPendingForRole(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pending requests")
	}
	if forms == nil {
		forms = []models.RequestForm{}
	}
	return forms, nil
}

// GetRequestStatistics aggregates request counts, served from cache when possible.
// The boolean reports a cache hit.
func (s *RequestWorkflowService) GetRequestStatistics(ctx context.Context, filter models.StatisticsFilter) (*models.RequestStatistics, bool, error) {
	key := statisticsCacheKey(filter)
	var cached models.RequestStatistics
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}
	stats, err := s.store.Statistics(ctx, filter)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute request statistics")
	}
	s.cache.Set(ctx, key, stats, s.statsTTL)
	return stats, false, nil
}

func statisticsCacheKey(filter models.StatisticsFilter) string {
	dept, college := "all", "all"
	if filter.DepartmentID != nil {
		dept = fmt.Sprintf("%d", *filter.DepartmentID)
	}
	if filter.CollegeID != nil {
		college = fmt.Sprintf("%d", *filter.CollegeID)
	}
	return fmt.Sprintf("requests:stats:dept:%s:college:%s", dept, college)
}
