package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-request-api/internal/models"
)

// TransitionState is the locked form and its ledger handed to a TransitionFunc.
// The callback mutates both in place; steps with ID 0 are inserted on commit.
type TransitionState struct {
	Form  *models.RequestForm
	Steps []models.ApprovalStep
}

// TransitionTx exposes the reads and sequence allocations allowed inside a transition.
type TransitionTx interface {
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)
	AttachmentTypes(ctx context.Context, formID int64) ([]models.AttachmentType, error)
}

// TransitionFunc applies one workflow transition. Returning commit=false rolls back without error.
type TransitionFunc func(ctx context.Context, tx TransitionTx, state *TransitionState) (commit bool, err error)

type sqlTransitionTx struct {
	tx *sqlx.Tx
}

// NextSequence allocates the next number of a per prefix and year counter.
func (t *sqlTransitionTx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	const query = `INSERT INTO request_number_sequences (prefix, year, last_value) VALUES ($1, $2, 1)
	ON CONFLICT (prefix, year) DO UPDATE SET last_value = request_number_sequences.last_value + 1
	RETURNING last_value`
	var value int64
	if err := t.tx.QueryRowxContext(ctx, query, prefix, year).Scan(&value); err != nil {
		return 0, fmt.Errorf("allocate request number: %w", err)
	}
	return value, nil
}

// AttachmentTypes lists the distinct attachment types already uploaded for a form.
func (t *sqlTransitionTx) AttachmentTypes(ctx context.Context, formID int64) ([]models.AttachmentType, error) {
	var types []models.AttachmentType
	if err := t.tx.SelectContext(ctx, &types, `SELECT DISTINCT attachment_type FROM request_attachments WHERE request_form_id = $1`, formID); err != nil {
		return nil, fmt.Errorf("list attachment types: %w", err)
	}
	return types, nil
}

// Transition locks the form row, loads its ledger and runs fn. When fn asks to commit,
// new steps are inserted, changed steps updated and the form written back guarded by
// its version. A missing form surfaces as sql.ErrNoRows.
func (r *RequestFormRepository) Transition(ctx context.Context, id int64, fn TransitionFunc) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var form models.RequestForm
	if err = tx.GetContext(ctx, &form, `SELECT `+requestFormColumns+` FROM request_forms WHERE id = $1 FOR UPDATE`, id); err != nil {
		return err
	}

	var steps []models.ApprovalStep
	if err = tx.SelectContext(ctx, &steps, `SELECT `+approvalStepColumns+` FROM request_approval_steps WHERE request_form_id = $1 ORDER BY step_number`, id); err != nil {
		return fmt.Errorf("load approval steps: %w", err)
	}

	snapshot := make(map[int64]models.ApprovalStep, len(steps))
	for _, s := range steps {
		snapshot[s.ID] = s
	}
	version := form.Version

	state := &TransitionState{Form: &form, Steps: steps}
	commit, err := fn(ctx, &sqlTransitionTx{tx: tx}, state)
	if err != nil {
		return err
	}
	if !commit {
		return nil
	}

	now := time.Now().UTC()
	for i := range state.Steps {
		step := &state.Steps[i]
		if step.ID == 0 {
			if err = insertStep(ctx, tx, form.ID, step, now); err != nil {
				return err
			}
			continue
		}
		if before, ok := snapshot[step.ID]; ok && !stepChanged(before, *step) {
			continue
		}
		if err = updateStep(ctx, tx, step, now); err != nil {
			return err
		}
	}

	const updateForm = `UPDATE request_forms
	SET request_number = $1, status = $2, current_step = $3, rejection_reason = $4, admin_notes = $5,
	    submitted_at = $6, decided_at = $7, completed_at = $8, updated_at = $9, version = version + 1
	WHERE id = $10 AND version = $11`
	result, err := tx.ExecContext(ctx, updateForm,
		form.RequestNumber, form.Status, form.CurrentStep, form.RejectionReason, form.AdminNotes,
		form.SubmittedAt, form.DecidedAt, form.CompletedAt, now, form.ID, version)
	if err != nil {
		return fmt.Errorf("update request form state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request form state rows: %w", err)
	}
	if rows == 0 {
		err = ErrVersionConflict
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	committed = true
	form.Version = version + 1
	form.UpdatedAt = now
	return nil
}

func insertStep(ctx context.Context, tx *sqlx.Tx, formID int64, step *models.ApprovalStep, now time.Time) error {
	const query = `INSERT INTO request_approval_steps
	(request_form_id, step_number, approver_role, approver_title_ar, approver_title_en, approver_id, status, comments, rejection_reason, action_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`
	step.RequestFormID = formID
	step.CreatedAt = now
	step.UpdatedAt = now
	if err := tx.QueryRowxContext(ctx, query, formID, step.StepNumber, step.ApproverRole, step.ApproverTitleAr, step.ApproverTitleEn,
		step.ApproverID, step.Status, step.Comments, step.RejectionReason, step.ActionAt, now, now).Scan(&step.ID); err != nil {
		return fmt.Errorf("insert approval step %d: %w", step.StepNumber, err)
	}
	return nil
}

func updateStep(ctx context.Context, tx *sqlx.Tx, step *models.ApprovalStep, now time.Time) error {
	const query = `UPDATE request_approval_steps
	SET status = $1, approver_id = $2, comments = $3, rejection_reason = $4, action_at = $5, updated_at = $6
	WHERE id = $7`
	step.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, query, step.Status, step.ApproverID, step.Comments, step.RejectionReason, step.ActionAt, now, step.ID); err != nil {
		return fmt.Errorf("update approval step %d: %w", step.StepNumber, err)
	}
	return nil
}

func stepChanged(a, b models.ApprovalStep) bool {
	return a.Status != b.Status ||
		!equalString(a.ApproverID, b.ApproverID) ||
		!equalString(a.Comments, b.Comments) ||
		!equalString(a.RejectionReason, b.RejectionReason) ||
		!equalTime(a.ActionAt, b.ActionAt)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
