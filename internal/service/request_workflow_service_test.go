package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-request-api/internal/models"
	"github.com/noah-isme/sis-request-api/internal/registry"
	"github.com/noah-isme/sis-request-api/internal/repository"
	"github.com/noah-isme/sis-request-api/internal/workflow"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

type memoryRequestStore struct {
	txLock      sync.Mutex
	mu          sync.Mutex
	forms       map[int64]models.RequestForm
	steps       map[int64][]models.ApprovalStep
	attachments map[int64][]models.AttachmentType
	sequences   map[string]int64
	nextStepID  int64
	conflict    bool
	pending     []models.RequestForm
	stats       *models.RequestStatistics
	statsCalls  int
}

func newMemoryRequestStore() *memoryRequestStore {
	return &memoryRequestStore{
		forms:       map[int64]models.RequestForm{},
		steps:       map[int64][]models.ApprovalStep{},
		attachments: map[int64][]models.AttachmentType{},
		sequences:   map[string]int64{},
	}
}

func (m *memoryRequestStore) put(form models.RequestForm, attachments ...models.AttachmentType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forms[form.ID] = form
	m.attachments[form.ID] = attachments
}

func (m *memoryRequestStore) form(id int64) models.RequestForm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forms[id]
}

func (m *memoryRequestStore) ledger(id int64) []models.ApprovalStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ApprovalStep(nil), m.steps[id]...)
}

type memoryTransitionTx struct {
	store *memoryRequestStore
}

func (t memoryTransitionTx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	key := fmt.Sprintf("%s-%d", prefix, year)
	t.store.sequences[key]++
	return t.store.sequences[key], nil
}

func (t memoryTransitionTx) AttachmentTypes(ctx context.Context, formID int64) ([]models.AttachmentType, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return append([]models.AttachmentType(nil), t.store.attachments[formID]...), nil
}

func (m *memoryRequestStore) Transition(ctx context.Context, id int64, fn repository.TransitionFunc) error {
	m.txLock.Lock()
	defer m.txLock.Unlock()

	m.mu.Lock()
	stored, ok := m.forms[id]
	steps := append([]models.ApprovalStep(nil), m.steps[id]...)
	m.mu.Unlock()
	if !ok {
		return sql.ErrNoRows
	}
	form := stored
	state := &repository.TransitionState{Form: &form, Steps: steps}

	commit, err := fn(ctx, memoryTransitionTx{store: m}, state)
	if err != nil || !commit {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflict || m.forms[id].Version != stored.Version {
		return repository.ErrVersionConflict
	}
	for i := range state.Steps {
		if state.Steps[i].ID == 0 {
			m.nextStepID++
			state.Steps[i].ID = m.nextStepID
		}
	}
	state.Form.Version++
	m.forms[id] = *state.Form
	m.steps[id] = append([]models.ApprovalStep(nil), state.Steps...)
	return nil
}

func (m *memoryRequestStore) ListPendingForRole(ctx context.Context, filter models.PendingRequestFilter) ([]models.RequestForm, error) {
	return m.pending, nil
}

func (m *memoryRequestStore) Statistics(ctx context.Context, filter models.StatisticsFilter) (*models.RequestStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsCalls++
	if m.stats == nil {
		return nil, errors.New("stats unavailable")
	}
	copied := *m.stats
	return &copied, nil
}

type memoryAuditLog struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *memoryAuditLog) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *log)
	return nil
}

func (a *memoryAuditLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

type staticStudents map[int64]models.StudentRef

func (s staticStudents) GetStudent(ctx context.Context, id int64) (*models.StudentRef, error) {
	ref, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &ref, nil
}

type workflowFixture struct {
	svc      *RequestWorkflowService
	store    *memoryRequestStore
	audit    *memoryAuditLog
	notifier *recordingNotifier
	cache    *memoryCacheRepo
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newWorkflowFixture(t *testing.T, overrides map[string][]string) *workflowFixture {
	t.Helper()
	reg := registry.Default()
	if overrides != nil {
		var err error
		reg, err = registry.New(overrides)
		require.NoError(t, err)
	}
	f := &workflowFixture{
		store:    newMemoryRequestStore(),
		audit:    &memoryAuditLog{},
		notifier: newRecordingNotifier(),
		cache:    newMemoryCacheRepo(),
	}
	f.svc = NewRequestWorkflowService(f.store, reg, f.audit, nil,
		WithWorkflowNotifier(f.notifier),
		WithWorkflowStudentDirectory(staticStudents{42: {ID: 42, UserID: "student-user-42"}}),
		WithWorkflowCache(NewCacheService(f.cache, nil, time.Minute, nil, true), time.Minute),
		WithWorkflowMetrics(NewMetricsService()),
		WithWorkflowClock(func() time.Time { return fixedNow }),
	)
	return f
}

func examRetakeDraft(id int64) models.RequestForm {
	return models.RequestForm{
		ID:          id,
		StudentID:   42,
		RequestType: registry.TypeExamRetake,
		Fields: models.FormFields{
			"course_id":      float64(7),
			"exam_type":      "FINAL",
			"absence_reason": "hospitalised during the exam week",
			"phone":          "0599123456",
		},
		Status:    models.RequestStatusDraft,
		CreatedBy: "student-user-42",
		Version:   1,
	}
}

func studentActor() models.Actor {
	id := int64(42)
	return models.Actor{UserID: "student-user-42", Role: models.RoleStudent, StudentID: &id}
}

func approver(id string, step *int, roles ...models.ApprovalRole) workflow.ApproverAssertion {
	return workflow.ApproverAssertion{ApproverID: id, Roles: roles, Step: step}
}

func stepPtr(v int) *int { return &v }

func (f *workflowFixture) submitted(t *testing.T, id int64) *TransitionResult {
	t.Helper()
	f.store.put(examRetakeDraft(id), models.AttachmentMedicalReport)
	res, err := f.svc.SubmitRequest(context.Background(), id, studentActor())
	require.NoError(t, err)
	require.True(t, res.Applied(), res.Rejection.String())
	return res
}

func TestSubmitRequestAssignsNumberAndLedger(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	res := f.submitted(t, 1)

	require.NotNil(t, res.Form.RequestNumber)
	assert.Equal(t, "EX-2026-00001", *res.Form.RequestNumber)
	assert.Equal(t, models.RequestStatusUnderReview, res.Form.Status)
	assert.Equal(t, 0, res.Form.CurrentStep)
	assert.Equal(t, 2, res.Form.Version)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, models.ApprovalRoleCourseInstructor, res.Steps[0].ApproverRole)
	assert.Equal(t, models.ApprovalRoleStudentAffairs, res.Steps[1].ApproverRole)
	assert.NotZero(t, res.Steps[0].ID)

	assert.Equal(t, 1, f.audit.count())
	assert.Equal(t, models.AuditActionRequestTransition, f.audit.entries[0].Action)
	require.Equal(t, []string{NotificationRequestSubmitted}, f.notifier.templates())
	assert.Equal(t, "student-user-42", f.notifier.sent[0].Recipient)

	f.store.put(examRetakeDraft(2), models.AttachmentMedicalReport)
	second, err := f.svc.SubmitRequest(context.Background(), 2, studentActor())
	require.NoError(t, err)
	assert.Equal(t, "EX-2026-00002", *second.Form.RequestNumber)
}

func TestSubmitRequestTwiceIsSoftFailure(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.submitted(t, 1)

	res, err := f.svc.SubmitRequest(context.Background(), 1, studentActor())
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, workflow.RejectAlreadySubmitted, res.Rejection.Code)
	assert.Equal(t, 2, f.store.form(1).Version)
}

func TestSubmitRequestReportsMissingFieldsAndAttachments(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	draft := examRetakeDraft(1)
	delete(draft.Fields, "absence_reason")
	f.store.put(draft)

	_, err := f.svc.SubmitRequest(context.Background(), 1, studentActor())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Fields, "absence_reason")
	assert.Equal(t, "is required", appErr.Fields["attachments.MEDICAL_REPORT"])

	stored := f.store.form(1)
	assert.Equal(t, models.RequestStatusDraft, stored.Status)
	assert.Nil(t, stored.RequestNumber)
	assert.Empty(t, f.store.sequences)
	assert.Empty(t, f.notifier.templates())
}

func TestSubmitRequestRejectsOtherStudent(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.store.put(examRetakeDraft(1), models.AttachmentMedicalReport)
	other := int64(99)

	_, err := f.svc.SubmitRequest(context.Background(), 1, models.Actor{UserID: "u-99", Role: models.RoleStudent, StudentID: &other})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestSubmitRequestNotFound(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	_, err := f.svc.SubmitRequest(context.Background(), 404, studentActor())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestApproveWalksOverriddenWorkflow(t *testing.T) {
	f := newWorkflowFixture(t, map[string][]string{registry.TypeExamRetake: {"ADVISOR", "DEPARTMENT"}})
	res := f.submitted(t, 1)
	assert.Equal(t, models.ApprovalRoleAdvisor, res.Steps[0].ApproverRole)
	ctx := context.Background()

	res, err := f.svc.ApproveStep(ctx, 1, approver("dept-1", nil, models.ApprovalRoleDepartment), nil)
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, workflow.RejectRoleMismatch, res.Rejection.Code)

	comment := "supporting documents verified"
	res, err = f.svc.ApproveStep(ctx, 1, approver("advisor-1", nil, models.ApprovalRoleAdvisor), &comment)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusPendingDept, res.Form.Status)
	assert.Equal(t, 1, res.Form.CurrentStep)

	res, err = f.svc.ApproveStep(ctx, 1, approver("dept-1", nil, models.ApprovalRoleDepartment), nil)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusApproved, res.Form.Status)
	require.NotNil(t, res.Form.DecidedAt)

	ledger := f.store.ledger(1)
	require.Len(t, ledger, 2)
	assert.Equal(t, models.StepStatusApproved, ledger[0].Status)
	assert.Equal(t, "advisor-1", *ledger[0].ApproverID)
	assert.Equal(t, comment, *ledger[0].Comments)
	assert.Equal(t, models.StepStatusApproved, ledger[1].Status)

	assert.Equal(t, []string{NotificationRequestSubmitted, NotificationStepApproved, NotificationRequestApproved}, f.notifier.templates())
}

func TestConcurrentApprovalsOnlyOneApplies(t *testing.T) {
	f := newWorkflowFixture(t, map[string][]string{registry.TypeExamRetake: {"ADVISOR", "DEPARTMENT"}})
	f.submitted(t, 1)

	const approvers = 8
	var wg sync.WaitGroup
	results := make([]*TransitionResult, approvers)
	errs := make([]error, approvers)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assertion := approver(fmt.Sprintf("advisor-%d", i), stepPtr(0), models.ApprovalRoleAdvisor, models.ApprovalRoleDepartment)
			results[i], errs[i] = f.svc.ApproveStep(context.Background(), 1, assertion, nil)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Applied() {
			applied++
			continue
		}
		assert.Equal(t, workflow.RejectStepNotPending, results[i].Rejection.Code)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.store.form(1).CurrentStep)
	assert.Equal(t, models.RequestStatusPendingDept, f.store.form(1).Status)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.submitted(t, 1)

	_, err := f.svc.RejectStep(context.Background(), 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), "   ", nil)
	require.Error(t, err)
	assert.Equal(t, "is required", appErrors.FromError(err).Fields["reason"])

	res, err := f.svc.RejectStep(context.Background(), 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), "no medical evidence", nil)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusRejected, res.Form.Status)
	assert.Equal(t, "no medical evidence", *res.Form.RejectionReason)

	assert.Equal(t, "no medical evidence", f.notifier.sent[len(f.notifier.sent)-1].Payload["rejection_reason"])

	res, err = f.svc.ApproveStep(context.Background(), 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.RejectNotInProgress, res.Rejection.Code)
}

func TestReturnAndResubmitReactivatesSameStep(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.submitted(t, 1)
	ctx := context.Background()

	_, err := f.svc.ApproveStep(ctx, 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), nil)
	require.NoError(t, err)

	note := "attach the hospital stamp"
	res, err := f.svc.ReturnForRevision(ctx, 1, approver("affairs-1", nil, models.ApprovalRoleStudentAffairs), &note)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusReturned, res.Form.Status)
	assert.Equal(t, 1, res.Form.CurrentStep)
	assert.Equal(t, note, *res.Form.AdminNotes)

	res, err = f.svc.SubmitOrResubmit(ctx, 1, models.RequestStatusReturned, studentActor())
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusPendingStudentAffairs, res.Form.Status)
	assert.Equal(t, 1, res.Form.CurrentStep)

	ledger := f.store.ledger(1)
	assert.Equal(t, models.StepStatusApproved, ledger[0].Status)
	assert.Equal(t, models.StepStatusPending, ledger[1].Status)
	assert.Nil(t, ledger[1].ApproverID)
	assert.Equal(t, "EX-2026-00001", *res.Form.RequestNumber)

	assert.Equal(t, []string{
		NotificationRequestSubmitted,
		NotificationStepApproved,
		NotificationRequestReturned,
		NotificationRequestResubmitted,
	}, f.notifier.templates())
}

func TestReturnForRevisionRequiresComments(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	before := f.submitted(t, 1).Form.Status
	ctx := context.Background()
	inst := approver("inst-1", nil, models.ApprovalRoleCourseInstructor)

	blank := "  \t "
	for _, comments := range []*string{nil, &blank} {
		_, err := f.svc.ReturnForRevision(ctx, 1, inst, comments)
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		assert.Equal(t, "is required", appErr.Fields["comments"])
	}
	assert.Equal(t, before, f.store.form(1).Status)
	assert.Equal(t, []string{NotificationRequestSubmitted}, f.notifier.templates())

	note := "  sign the petition page  "
	res, err := f.svc.ReturnForRevision(ctx, 1, inst, &note)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "sign the petition page", *res.Form.AdminNotes)
	assert.Equal(t, models.StepStatusReturned, f.store.ledger(1)[0].Status)
}

func TestResubmitRevalidatesAttachments(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.submitted(t, 1)
	ctx := context.Background()
	note := "upload a clearer scan"
	_, err := f.svc.ReturnForRevision(ctx, 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), &note)
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.attachments[1] = nil
	f.store.mu.Unlock()

	_, err = f.svc.ResubmitRequest(ctx, 1, studentActor())
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Fields, "attachments.MEDICAL_REPORT")
	assert.Equal(t, models.RequestStatusReturned, f.store.form(1).Status)
}

func TestCancelRequest(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()

	f.store.put(examRetakeDraft(1))
	res, err := f.svc.CancelRequest(ctx, 1, studentActor())
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusCancelled, res.Form.Status)

	approved := examRetakeDraft(2)
	approved.Status = models.RequestStatusApproved
	f.store.put(approved)
	res, err = f.svc.CancelRequest(ctx, 2, studentActor())
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, workflow.RejectNotCancellable, res.Rejection.Code)
	assert.Equal(t, models.RequestStatusApproved, f.store.form(2).Status)
}

func TestCompleteRequestIsStaffOnly(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	approved := examRetakeDraft(1)
	approved.Status = models.RequestStatusApproved
	f.store.put(approved)

	_, err := f.svc.CompleteRequest(ctx, 1, studentActor())
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	res, err := f.svc.CompleteRequest(ctx, 1, models.Actor{UserID: "registrar", Role: models.RoleStaff})
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, models.RequestStatusCompleted, res.Form.Status)
	require.NotNil(t, res.Form.CompletedAt)

	res, err = f.svc.CompleteRequest(ctx, 1, models.Actor{UserID: "registrar", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, workflow.RejectNotApproved, res.Rejection.Code)
}

func TestTransitionVersionConflict(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	f.submitted(t, 1)
	f.store.conflict = true

	_, err := f.svc.ApproveStep(context.Background(), 1, approver("inst-1", nil, models.ApprovalRoleCourseInstructor), nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConcurrentUpdate.Code, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
	assert.Equal(t, 1, f.audit.count())
}

func TestGetPendingRequestsForRole(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.GetPendingRequestsForRole(ctx, models.PendingRequestFilter{})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.GetPendingRequestsForRole(ctx, models.PendingRequestFilter{Role: "JANITOR"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	forms, err := f.svc.GetPendingRequestsForRole(ctx, models.PendingRequestFilter{Role: "dean"})
	require.NoError(t, err)
	assert.NotNil(t, forms)
	assert.Empty(t, forms)

	f.store.pending = []models.RequestForm{examRetakeDraft(3)}
	forms, err = f.svc.GetPendingRequestsForRole(ctx, models.PendingRequestFilter{Role: models.ApprovalRoleDean})
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}

func TestRequestStatisticsCachedAndInvalidated(t *testing.T) {
	f := newWorkflowFixture(t, nil)
	ctx := context.Background()
	f.store.stats = &models.RequestStatistics{Total: 3, Pending: 1, ByStatus: map[string]int64{"DRAFT": 2}}

	stats, hit, err := f.svc.GetRequestStatistics(ctx, models.StatisticsFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int64(3), stats.Total)

	stats, hit, err = f.svc.GetRequestStatistics(ctx, models.StatisticsFilter{})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, 1, f.store.statsCalls)

	f.submitted(t, 1)
	assert.Contains(t, f.cache.deletes, statisticsCachePattern)

	_, hit, err = f.svc.GetRequestStatistics(ctx, models.StatisticsFilter{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, f.store.statsCalls)
}

func TestStatisticsCacheKeyScopes(t *testing.T) {
	dept := int64(4)
	assert.Equal(t, "requests:stats:dept:all:college:all", statisticsCacheKey(models.StatisticsFilter{}))
	assert.Equal(t, "requests:stats:dept:4:college:all", statisticsCacheKey(models.StatisticsFilter{DepartmentID: &dept}))
}

func TestFormatRequestNumber(t *testing.T) {
	assert.Equal(t, "GR-2026-00042", FormatRequestNumber("GR", 2026, 42))
	assert.Equal(t, "EX-2025-123456", FormatRequestNumber("EX", 2025, 123456))
}
