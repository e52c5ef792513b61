package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sis-request-api/internal/models"
)

// ErrVersionConflict signals that the form changed since it was read.
var ErrVersionConflict = errors.New("request form version conflict")

const requestFormColumns = `id, student_id, request_number, request_type, department_id, college_id, program_id, fields, status,
       current_step, reason, student_notes, admin_notes, rejection_reason, created_by, version, days_pending,
       reminder_count, last_reminder_at, created_at, updated_at, submitted_at, decided_at, completed_at`

const approvalStepColumns = `id, request_form_id, step_number, approver_role, approver_title_ar, approver_title_en, approver_id,
       status, comments, rejection_reason, action_at, created_at, updated_at`

const requestCourseColumns = `id, request_form_id, course_id, section, reason, status, rejection_reason, reviewed_by, reviewed_at, created_at`

const equivalencyColumns = `id, request_form_id, target_course_id, source_course_code, source_course_name_ar, source_course_name_en,
       source_credits, source_grade, status, rejection_reason, reviewed_by, reviewed_at, created_at`

// RequestFormRepository persists student requests with their approval ledger and line items.
type RequestFormRepository struct {
	db *sqlx.DB
}

// NewRequestFormRepository constructs the repository.
func NewRequestFormRepository(db *sqlx.DB) *RequestFormRepository {
	return &RequestFormRepository{db: db}
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func pendingStatusArray() pq.StringArray {
	out := make(pq.StringArray, len(models.PendingApprovalStatuses))
	for i, s := range models.PendingApprovalStatuses {
		out[i] = string(s)
	}
	return out
}

// Create inserts a draft form and its line items in one transaction.
func (r *RequestFormRepository) Create(ctx context.Context, form *models.RequestForm, courses []models.RequestCourse, equivalencies []models.RequestEquivalency) (err error) {
	now := time.Now().UTC()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = form.CreatedAt
	if form.Status == "" {
		form.Status = models.RequestStatusDraft
	}
	if form.Version == 0 {
		form.Version = 1
	}
	if form.Fields == nil {
		form.Fields = models.FormFields{}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request form transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertForm = `INSERT INTO request_forms
	(student_id, request_type, department_id, college_id, program_id, fields, status, current_step, reason, student_notes, created_by, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id`
	if err = tx.QueryRowxContext(ctx, insertForm,
		form.StudentID, form.RequestType, form.DepartmentID, form.CollegeID, form.ProgramID, form.Fields,
		form.Status, form.CurrentStep, form.Reason, form.StudentNotes, form.CreatedBy, form.Version,
		form.CreatedAt, form.UpdatedAt,
	).Scan(&form.ID); err != nil {
		return fmt.Errorf("insert request form: %w", err)
	}

	if err = insertLineItems(ctx, tx, form.ID, courses, equivalencies, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request form: %w", err)
	}
	return nil
}

func insertLineItems(ctx context.Context, tx *sqlx.Tx, formID int64, courses []models.RequestCourse, equivalencies []models.RequestEquivalency, now time.Time) error {
	const insertCourse = `INSERT INTO request_courses (request_form_id, course_id, section, reason, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	for i := range courses {
		c := &courses[i]
		c.RequestFormID = formID
		c.Status = models.LineItemPending
		c.CreatedAt = now
		if err := tx.QueryRowxContext(ctx, insertCourse, formID, c.CourseID, c.Section, c.Reason, c.Status, now).Scan(&c.ID); err != nil {
			return fmt.Errorf("insert request course: %w", err)
		}
	}

	const insertEquivalency = `INSERT INTO request_equivalencies
	(request_form_id, target_course_id, source_course_code, source_course_name_ar, source_course_name_en, source_credits, source_grade, status, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	for i := range equivalencies {
		e := &equivalencies[i]
		e.RequestFormID = formID
		e.Status = models.LineItemPending
		e.CreatedAt = now
		if err := tx.QueryRowxContext(ctx, insertEquivalency, formID, e.TargetCourseID, e.SourceCourseCode, e.SourceCourseNameAr,
			e.SourceCourseNameEn, e.SourceCredits, e.SourceGrade, e.Status, now).Scan(&e.ID); err != nil {
			return fmt.Errorf("insert request equivalency: %w", err)
		}
	}
	return nil
}

// UpdateDraft rewrites the editable columns of a draft or returned form and replaces its line items.
// It returns ErrVersionConflict when the form changed or left the editable states.
func (r *RequestFormRepository) UpdateDraft(ctx context.Context, form *models.RequestForm, courses []models.RequestCourse, equivalencies []models.RequestEquivalency) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin request form transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE request_forms
	SET fields = $1, reason = $2, student_notes = $3, program_id = $4, updated_at = $5, version = version + 1
	WHERE id = $6 AND version = $7 AND status IN ('DRAFT', 'RETURNED_FOR_REVISION')`
	result, err := tx.ExecContext(ctx, update, form.Fields, form.Reason, form.StudentNotes, form.ProgramID, now, form.ID, form.Version)
	if err != nil {
		return fmt.Errorf("update request form: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request form update rows: %w", err)
	}
	if rows == 0 {
		err = ErrVersionConflict
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM request_courses WHERE request_form_id = $1`, form.ID); err != nil {
		return fmt.Errorf("clear request courses: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM request_equivalencies WHERE request_form_id = $1`, form.ID); err != nil {
		return fmt.Errorf("clear request equivalencies: %w", err)
	}
	if err = insertLineItems(ctx, tx, form.ID, courses, equivalencies, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit request form update: %w", err)
	}
	form.Version++
	form.UpdatedAt = now
	return nil
}

// DeleteDraft removes a draft form. Owned rows cascade.
func (r *RequestFormRepository) DeleteDraft(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM request_forms WHERE id = $1 AND status = 'DRAFT'`, id)
	if err != nil {
		return fmt.Errorf("delete request form: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request form delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByID fetches one form.
func (r *RequestFormRepository) GetByID(ctx context.Context, id int64) (*models.RequestForm, error) {
	query := `SELECT ` + requestFormColumns + ` FROM request_forms WHERE id = $1`
	var form models.RequestForm
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		return nil, err
	}
	return &form, nil
}

// GetByNumber fetches one form by its public request number.
func (r *RequestFormRepository) GetByNumber(ctx context.Context, number string) (*models.RequestForm, error) {
	query := `SELECT ` + requestFormColumns + ` FROM request_forms WHERE request_number = $1`
	var form models.RequestForm
	if err := r.db.GetContext(ctx, &form, query, number); err != nil {
		return nil, err
	}
	return &form, nil
}

// List returns forms matching the filter, newest first, with the total count.
func (r *RequestFormRepository) List(ctx context.Context, filter models.RequestFormFilter) ([]models.RequestForm, int, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)

	if filter.StudentID != nil {
		args = append(args, *filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.RequestType != "" {
		args = append(args, filter.RequestType)
		conditions = append(conditions, fmt.Sprintf("request_type = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if filter.CollegeID != nil {
		args = append(args, *filter.CollegeID)
		conditions = append(conditions, fmt.Sprintf("college_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToUpper(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("UPPER(request_number) LIKE $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM request_forms`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count request forms: %w", err)
	}

	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := fmt.Sprintf(`SELECT %s FROM request_forms%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		requestFormColumns, where, size, (page-1)*size)

	var forms []models.RequestForm
	if err := r.db.SelectContext(ctx, &forms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list request forms: %w", err)
	}
	return forms, total, nil
}

// ListSteps returns the approval ledger ordered by step number.
func (r *RequestFormRepository) ListSteps(ctx context.Context, formID int64) ([]models.ApprovalStep, error) {
	query := `SELECT ` + approvalStepColumns + ` FROM request_approval_steps WHERE request_form_id = $1 ORDER BY step_number`
	var steps []models.ApprovalStep
	if err := r.db.SelectContext(ctx, &steps, query, formID); err != nil {
		return nil, fmt.Errorf("list approval steps: %w", err)
	}
	return steps, nil
}

// ListCourses returns the course line items of a form.
func (r *RequestFormRepository) ListCourses(ctx context.Context, formID int64) ([]models.RequestCourse, error) {
	query := `SELECT ` + requestCourseColumns + ` FROM request_courses WHERE request_form_id = $1 ORDER BY id`
	var courses []models.RequestCourse
	if err := r.db.SelectContext(ctx, &courses, query, formID); err != nil {
		return nil, fmt.Errorf("list request courses: %w", err)
	}
	return courses, nil
}

// ListEquivalencies returns the equivalency line items of a form.
func (r *RequestFormRepository) ListEquivalencies(ctx context.Context, formID int64) ([]models.RequestEquivalency, error) {
	query := `SELECT ` + equivalencyColumns + ` FROM request_equivalencies WHERE request_form_id = $1 ORDER BY id`
	var rows []models.RequestEquivalency
	if err := r.db.SelectContext(ctx, &rows, query, formID); err != nil {
		return nil, fmt.Errorf("list request equivalencies: %w", err)
	}
	return rows, nil
}

// DecideCourse records the disposition of one course line item.
func (r *RequestFormRepository) DecideCourse(ctx context.Context, formID, itemID int64, decision models.LineItemDecision) (*models.RequestCourse, error) {
	query := `UPDATE request_courses SET status = $1, rejection_reason = $2, reviewed_by = $3, reviewed_at = $4
	WHERE id = $5 AND request_form_id = $6 RETURNING ` + requestCourseColumns
	var course models.RequestCourse
	if err := r.db.GetContext(ctx, &course, query, decision.Status, decision.RejectionReason, decision.ReviewedBy, decision.ReviewedAt, itemID, formID); err != nil {
		return nil, err
	}
	return &course, nil
}

// DecideEquivalency records the disposition of one equivalency line item.
func (r *RequestFormRepository) DecideEquivalency(ctx context.Context, formID, itemID int64, decision models.LineItemDecision) (*models.RequestEquivalency, error) {
	query := `UPDATE request_equivalencies SET status = $1, rejection_reason = $2, reviewed_by = $3, reviewed_at = $4
	WHERE id = $5 AND request_form_id = $6 RETURNING ` + equivalencyColumns
	var row models.RequestEquivalency
	if err := r.db.GetContext(ctx, &row, query, decision.Status, decision.RejectionReason, decision.ReviewedBy, decision.ReviewedAt, itemID, formID); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListPendingForRole returns forms whose current step waits on role, oldest submission first.
func (r *RequestFormRepository) ListPendingForRole(ctx context.Context, filter models.PendingRequestFilter) ([]models.RequestForm, error) {
	args := []interface{}{filter.Role, pendingStatusArray()}
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + prefixed("f", requestFormColumns) + `
	FROM request_forms f
	JOIN request_approval_steps s ON s.request_form_id = f.id AND s.step_number = f.current_step
	WHERE s.approver_role = $1 AND s.status = 'PENDING' AND f.status = ANY($2)`)
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		builder.WriteString(fmt.Sprintf(" AND f.department_id = $%d", len(args)))
	}
	if filter.CollegeID != nil {
		args = append(args, *filter.CollegeID)
		builder.WriteString(fmt.Sprintf(" AND f.college_id = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY f.submitted_at ASC, f.id ASC")

	var forms []models.RequestForm
	if err := r.db.SelectContext(ctx, &forms, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return forms, nil
}

type statusTypeCount struct {
	Status      string `db:"status"`
	RequestType string `db:"request_type"`
	Total       int64  `db:"total"`
}

// Statistics aggregates counts by status and type plus the mean submission to decision time.
func (r *RequestFormRepository) Statistics(ctx context.Context, filter models.StatisticsFilter) (*models.RequestStatistics, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 2)
	if filter.DepartmentID != nil {
		args = append(args, *filter.DepartmentID)
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)))
	}
	if filter.CollegeID != nil {
		args = append(args, *filter.CollegeID)
		conditions = append(conditions, fmt.Sprintf("college_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var counts []statusTypeCount
	if err := r.db.SelectContext(ctx, &counts,
		`SELECT status, request_type, COUNT(*) AS total FROM request_forms`+where+` GROUP BY status, request_type`, args...); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}

	decidedConditions := append([]string{"decided_at IS NOT NULL", "submitted_at IS NOT NULL"}, conditions...)
	var avg sql.NullFloat64
	if err := r.db.GetContext(ctx, &avg,
		`SELECT AVG(EXTRACT(EPOCH FROM (decided_at - submitted_at)) / 3600.0) FROM request_forms WHERE `+strings.Join(decidedConditions, " AND "), args...); err != nil {
		return nil, fmt.Errorf("average decision time: %w", err)
	}

	stats := &models.RequestStatistics{
		ByStatus:    make(map[string]int64),
		ByType:      make(map[string]int64),
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range counts {
		stats.Total += c.Total
		stats.ByStatus[c.Status] += c.Total
		stats.ByType[c.RequestType] += c.Total
		status := models.RequestStatus(c.Status)
		switch {
		case status.IsPendingApproval():
			stats.Pending += c.Total
		case status == models.RequestStatusApproved:
			stats.Approved += c.Total
		case status == models.RequestStatusRejected:
			stats.Rejected += c.Total
		case status == models.RequestStatusCompleted:
			stats.Completed += c.Total
		case status == models.RequestStatusCancelled:
			stats.Cancelled += c.Total
		case status == models.RequestStatusDraft:
			stats.Draft += c.Total
		}
	}
	if avg.Valid {
		hours := avg.Float64
		stats.AvgDecisionHours = &hours
	}
	return stats, nil
}

// ListReminderCandidates returns every form waiting on an approver with its current role.
func (r *RequestFormRepository) ListReminderCandidates(ctx context.Context) ([]models.ReminderCandidate, error) {
	const query = `SELECT f.id, f.request_number, f.status, s.approver_role, f.submitted_at,
       (SELECT MAX(a.action_at) FROM request_approval_steps a WHERE a.request_form_id = f.id) AS last_action_at,
       f.reminder_count, f.last_reminder_at
	FROM request_forms f
	JOIN request_approval_steps s ON s.request_form_id = f.id AND s.step_number = f.current_step
	WHERE f.status = ANY($1) AND s.status = 'PENDING' AND f.submitted_at IS NOT NULL
	ORDER BY f.submitted_at ASC`
	var rows []models.ReminderCandidate
	if err := r.db.SelectContext(ctx, &rows, query, pendingStatusArray()); err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	return rows, nil
}

// UpdateReminderState stores the pending age of a form and, when reminded, bumps the reminder counters.
// It does not touch status, current step or version.
func (r *RequestFormRepository) UpdateReminderState(ctx context.Context, id int64, daysPending int, remindedAt *time.Time) error {
	var err error
	if remindedAt != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE request_forms SET days_pending = $1, reminder_count = reminder_count + 1, last_reminder_at = $2 WHERE id = $3`,
			daysPending, *remindedAt, id)
	} else {
		_, err = r.db.ExecContext(ctx, `UPDATE request_forms SET days_pending = $1 WHERE id = $2`, daysPending, id)
	}
	if err != nil {
		return fmt.Errorf("update reminder state: %w", err)
	}
	return nil
}
