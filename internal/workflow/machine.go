// Package workflow implements the approval state machine of a student request.
//
// A Machine wraps one request form together with its approval step ledger and
// is the only code allowed to change the form status and current step. Every
// transition updates both together. Failed preconditions are reported as a
// *Rejection value, never as an error: callers treat "cannot transition" as an
// expected outcome and translate it to a 4xx response.
package workflow

import (
	"fmt"
	"time"

	"github.com/noah-isme/sis-request-api/internal/models"
)

// RejectionCode identifies why a transition was refused.
type RejectionCode string

const (
	RejectAlreadySubmitted RejectionCode = "ALREADY_SUBMITTED"
	RejectNotInProgress    RejectionCode = "NOT_IN_PROGRESS"
	RejectStepNotPending   RejectionCode = "STEP_NOT_PENDING"
	RejectRoleMismatch     RejectionCode = "ROLE_MISMATCH"
	RejectAlreadyTerminal  RejectionCode = "ALREADY_TERMINAL"
	RejectNotReturned      RejectionCode = "NOT_RETURNED"
	RejectNotCancellable   RejectionCode = "NOT_CANCELLABLE"
	RejectNotApproved      RejectionCode = "NOT_APPROVED"
	RejectEmptyWorkflow    RejectionCode = "EMPTY_WORKFLOW"
)

// Rejection is the soft failure of a workflow transition.
type Rejection struct {
	Code      RejectionCode `json:"code"`
	MessageAr string        `json:"message_ar"`
	MessageEn string        `json:"message_en"`
}

func (r *Rejection) String() string {
	if r == nil {
		return "<applied>"
	}
	return fmt.Sprintf("%s: %s", r.Code, r.MessageEn)
}

var rejectionMessages = map[RejectionCode][2]string{
	RejectAlreadySubmitted: {"تم تقديم الطلب مسبقاً", "request has already been submitted"},
	RejectNotInProgress:    {"الطلب ليس بانتظار الموافقة", "request is not awaiting approval"},
	RejectStepNotPending:   {"تم اتخاذ إجراء على هذه المرحلة مسبقاً", "current approval step has already been processed"},
	RejectRoleMismatch:     {"ليس لديك صلاحية الموافقة على هذه المرحلة", "approver role does not match the current step"},
	RejectAlreadyTerminal:  {"الطلب مغلق ولا يمكن إعادته للتعديل", "request is closed and cannot be returned for revision"},
	RejectNotReturned:      {"الطلب غير معاد للتعديل", "request is not returned for revision"},
	RejectNotCancellable:   {"لا يمكن إلغاء هذا الطلب", "request cannot be cancelled in its current state"},
	RejectNotApproved:      {"لا يمكن إكمال طلب غير موافق عليه", "only approved requests can be completed"},
	RejectEmptyWorkflow:    {"لا يوجد مسار موافقات لهذا النوع", "request type has no approval workflow"},
}

func reject(code RejectionCode) *Rejection {
	msg := rejectionMessages[code]
	return &Rejection{Code: code, MessageAr: msg[0], MessageEn: msg[1]}
}

// ApproverAssertion is the authorization capability handed to the engine by the caller.
// Step, when set, pins the action to the step the approver was looking at so a
// repeated submission cannot act on the step that follows it.
type ApproverAssertion struct {
	ApproverID string
	Roles      []models.ApprovalRole
	Step       *int
}

// Holds reports whether the approver may act as role.
func (a ApproverAssertion) Holds(role models.ApprovalRole) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleLabeler returns the display titles of an approval role.
type RoleLabeler func(models.ApprovalRole) models.Label

// Machine drives one request form through its workflow.
type Machine struct {
	form  *models.RequestForm
	steps []models.ApprovalStep
	now   func() time.Time
}

// NewMachine wraps a form and its ledger, ordered by step number.
func NewMachine(form *models.RequestForm, steps []models.ApprovalStep, now func() time.Time) (*Machine, error) {
	if form == nil {
		return nil, fmt.Errorf("workflow: nil form")
	}
	if now == nil {
		now = time.Now
	}
	for i, step := range steps {
		if step.StepNumber != i {
			return nil, fmt.Errorf("workflow: ledger of request %d has step %d at position %d", form.ID, step.StepNumber, i)
		}
	}
	if form.Status == models.RequestStatusDraft && len(steps) > 0 {
		return nil, fmt.Errorf("workflow: draft request %d already has %d approval steps", form.ID, len(steps))
	}
	if form.Status != models.RequestStatusDraft && len(steps) > 0 && (form.CurrentStep < 0 || form.CurrentStep >= len(steps)) {
		return nil, fmt.Errorf("workflow: request %d current step %d outside ledger of %d", form.ID, form.CurrentStep, len(steps))
	}
	return &Machine{form: form, steps: steps, now: now}, nil
}

// Form returns the wrapped form.
func (m *Machine) Form() *models.RequestForm { return m.form }

// Steps returns the ledger.
func (m *Machine) Steps() []models.ApprovalStep { return m.steps }

// Current returns the step at the current index, or nil when no ledger exists.
func (m *Machine) Current() *models.ApprovalStep {
	if m.form.CurrentStep < 0 || m.form.CurrentStep >= len(m.steps) {
		return nil
	}
	return &m.steps[m.form.CurrentStep]
}

// CanSubmit checks the submission precondition without changing state.
func (m *Machine) CanSubmit() *Rejection {
	if m.form.Status != models.RequestStatusDraft {
		return reject(RejectAlreadySubmitted)
	}
	return nil
}

// Submit creates one PENDING step per workflow role and moves the form to the first pending status.
func (m *Machine) Submit(workflow []models.ApprovalRole, requestNumber string, label RoleLabeler) *Rejection {
	if rej := m.CanSubmit(); rej != nil {
		return rej
	}
	if len(workflow) == 0 {
		return reject(RejectEmptyWorkflow)
	}
	now := m.now().UTC()
	steps := make([]models.ApprovalStep, len(workflow))
	for i, role := range workflow {
		title := models.Label{Ar: string(role), En: string(role)}
		if label != nil {
			title = label(role)
		}
		steps[i] = models.ApprovalStep{
			RequestFormID:   m.form.ID,
			StepNumber:      i,
			ApproverRole:    role,
			ApproverTitleAr: title.Ar,
			ApproverTitleEn: title.En,
			Status:          models.StepStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}
	m.steps = steps

	number := requestNumber
	m.form.RequestNumber = &number
	m.form.CurrentStep = 0
	m.form.Status = workflow[0].PendingStatus()
	m.form.SubmittedAt = &now
	m.form.UpdatedAt = now
	return nil
}

// actionable checks the shared preconditions of approve and reject.
func (m *Machine) actionable(assertion ApproverAssertion) (*models.ApprovalStep, *Rejection) {
	if !m.form.Status.IsPendingApproval() {
		return nil, reject(RejectNotInProgress)
	}
	if assertion.Step != nil && *assertion.Step != m.form.CurrentStep {
		return nil, reject(RejectStepNotPending)
	}
	step := m.Current()
	if step == nil || step.Status != models.StepStatusPending {
		return nil, reject(RejectStepNotPending)
	}
	if !assertion.Holds(step.ApproverRole) {
		return nil, reject(RejectRoleMismatch)
	}
	return step, nil
}

func (m *Machine) record(step *models.ApprovalStep, status models.StepStatus, approverID string, comments *string, now time.Time) {
	id := approverID
	step.Status = status
	step.ApproverID = &id
	step.Comments = comments
	step.ActionAt = &now
	step.UpdatedAt = now
}

// Approve records the current step as approved and advances the form.
func (m *Machine) Approve(assertion ApproverAssertion, comments *string) *Rejection {
	step, rej := m.actionable(assertion)
	if rej != nil {
		return rej
	}
	now := m.now().UTC()
	m.record(step, models.StepStatusApproved, assertion.ApproverID, comments, now)

	if m.form.CurrentStep == len(m.steps)-1 {
		m.form.Status = models.RequestStatusApproved
		m.form.DecidedAt = &now
	} else {
		m.form.CurrentStep++
		m.form.Status = m.steps[m.form.CurrentStep].ApproverRole.PendingStatus()
	}
	m.form.UpdatedAt = now
	return nil
}

// Reject terminates the request at the current step.
func (m *Machine) Reject(assertion ApproverAssertion, reason string, comments *string) *Rejection {
	step, rej := m.actionable(assertion)
	if rej != nil {
		return rej
	}
	now := m.now().UTC()
	m.record(step, models.StepStatusRejected, assertion.ApproverID, comments, now)
	r := reason
	step.RejectionReason = &r

	m.form.Status = models.RequestStatusRejected
	m.form.RejectionReason = &r
	m.form.DecidedAt = &now
	m.form.UpdatedAt = now
	return nil
}

// ReturnForRevision hands the form back to the student. The current step is kept
// so the same step re-activates on resubmission.
func (m *Machine) ReturnForRevision(assertion ApproverAssertion, comments *string) *Rejection {
	if m.form.Status.IsTerminal() {
		return reject(RejectAlreadyTerminal)
	}
	step, rej := m.actionable(assertion)
	if rej != nil {
		return rej
	}
	now := m.now().UTC()
	m.record(step, models.StepStatusReturned, assertion.ApproverID, comments, now)

	m.form.Status = models.RequestStatusReturned
	m.form.AdminNotes = comments
	m.form.UpdatedAt = now
	return nil
}

// Resubmit re-activates the returned step after the student revised the form.
func (m *Machine) Resubmit() *Rejection {
	if m.form.Status != models.RequestStatusReturned {
		return reject(RejectNotReturned)
	}
	step := m.Current()
	if step == nil || step.Status != models.StepStatusReturned {
		return reject(RejectNotReturned)
	}
	now := m.now().UTC()
	step.Status = models.StepStatusPending
	step.ApproverID = nil
	step.Comments = nil
	step.ActionAt = nil
	step.UpdatedAt = now

	m.form.Status = step.ApproverRole.PendingStatus()
	m.form.UpdatedAt = now
	return nil
}

// Cancel withdraws a request that has not reached a final decision. Steps are left untouched.
func (m *Machine) Cancel() *Rejection {
	switch m.form.Status {
	case models.RequestStatusApproved, models.RequestStatusCompleted, models.RequestStatusCancelled, models.RequestStatusRejected:
		return reject(RejectNotCancellable)
	}
	m.form.Status = models.RequestStatusCancelled
	m.form.UpdatedAt = m.now().UTC()
	return nil
}

// Complete marks an approved request as executed.
func (m *Machine) Complete() *Rejection {
	if m.form.Status != models.RequestStatusApproved {
		return reject(RejectNotApproved)
	}
	now := m.now().UTC()
	m.form.Status = models.RequestStatusCompleted
	m.form.CompletedAt = &now
	m.form.UpdatedAt = now
	return nil
}
