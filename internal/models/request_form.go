package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RequestStatus captures the lifecycle state of a student request.
type RequestStatus string

const (
	RequestStatusDraft                 RequestStatus = "DRAFT"
	RequestStatusSubmitted             RequestStatus = "SUBMITTED"
	RequestStatusPendingDept           RequestStatus = "PENDING_DEPT"
	RequestStatusPendingDean           RequestStatus = "PENDING_DEAN"
	RequestStatusPendingAcademic       RequestStatus = "PENDING_ACADEMIC"
	RequestStatusPendingStudentAffairs RequestStatus = "PENDING_STUDENT_AFFAIRS"
	RequestStatusPendingFinance        RequestStatus = "PENDING_FINANCE"
	RequestStatusPendingAdmissions     RequestStatus = "PENDING_ADMISSIONS"
	RequestStatusUnderReview           RequestStatus = "UNDER_REVIEW"
	RequestStatusReturned              RequestStatus = "RETURNED_FOR_REVISION"
	RequestStatusApproved              RequestStatus = "APPROVED"
	RequestStatusRejected              RequestStatus = "REJECTED"
	RequestStatusCancelled             RequestStatus = "CANCELLED"
	RequestStatusCompleted             RequestStatus = "COMPLETED"
)

// PendingApprovalStatuses are the in-progress states where an approver must act.
var PendingApprovalStatuses = []RequestStatus{
	RequestStatusSubmitted,
	RequestStatusPendingDept,
	RequestStatusPendingDean,
	RequestStatusPendingAcademic,
	RequestStatusPendingStudentAffairs,
	RequestStatusPendingFinance,
	RequestStatusPendingAdmissions,
	RequestStatusUnderReview,
}

// IsPendingApproval reports whether an approver action is expected.
func (s RequestStatus) IsPendingApproval() bool {
	for _, p := range PendingApprovalStatuses {
		if p == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further workflow transition is possible, except COMPLETED after APPROVED.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled, RequestStatusCompleted:
		return true
	}
	return false
}

// IsEditable reports whether the student may still change the form data.
func (s RequestStatus) IsEditable() bool {
	return s == RequestStatusDraft || s == RequestStatusReturned
}

// Label returns the bilingual status name.
func (s RequestStatus) Label() Label {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return Label{Ar: string(s), En: string(s)}
}

var statusLabels = map[RequestStatus]Label{
	RequestStatusDraft:                 {Ar: "مسودة", En: "Draft"},
	RequestStatusSubmitted:             {Ar: "مقدم", En: "Submitted"},
	RequestStatusPendingDept:           {Ar: "بانتظار القسم", En: "Pending Department"},
	RequestStatusPendingDean:           {Ar: "بانتظار العميد", En: "Pending Dean"},
	RequestStatusPendingAcademic:       {Ar: "بانتظار الشؤون الأكاديمية", En: "Pending Academic Affairs"},
	RequestStatusPendingStudentAffairs: {Ar: "بانتظار شؤون الطلبة", En: "Pending Student Affairs"},
	RequestStatusPendingFinance:        {Ar: "بانتظار المالية", En: "Pending Finance"},
	RequestStatusPendingAdmissions:     {Ar: "بانتظار القبول والتسجيل", En: "Pending Admissions"},
	RequestStatusUnderReview:           {Ar: "قيد المراجعة", En: "Under Review"},
	RequestStatusReturned:              {Ar: "معاد للتعديل", En: "Returned for Revision"},
	RequestStatusApproved:              {Ar: "موافق عليه", En: "Approved"},
	RequestStatusRejected:              {Ar: "مرفوض", En: "Rejected"},
	RequestStatusCancelled:             {Ar: "ملغي", En: "Cancelled"},
	RequestStatusCompleted:             {Ar: "مكتمل", En: "Completed"},
}

// FormFields holds the type specific dynamic values of a request.
type FormFields map[string]interface{}

// Value implements driver.Valuer for JSONB columns.
func (f FormFields) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner for JSONB columns.
func (f *FormFields) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*f = FormFields{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported fields type %T", src)
	}
	out := FormFields{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return err
		}
	}
	*f = out
	return nil
}

// RequestForm is the persisted state of one student request.
type RequestForm struct {
	ID              int64         `db:"id" json:"id"`
	StudentID       int64         `db:"student_id" json:"student_id"`
	RequestNumber   *string       `db:"request_number" json:"request_number,omitempty"`
	RequestType     string        `db:"request_type" json:"request_type"`
	DepartmentID    *int64        `db:"department_id" json:"department_id,omitempty"`
	CollegeID       *int64        `db:"college_id" json:"college_id,omitempty"`
	ProgramID       *int64        `db:"program_id" json:"program_id,omitempty"`
	Fields          FormFields    `db:"fields" json:"fields"`
	Status          RequestStatus `db:"status" json:"status"`
	CurrentStep     int           `db:"current_step" json:"current_step"`
	Reason          *string       `db:"reason" json:"reason,omitempty"`
	StudentNotes    *string       `db:"student_notes" json:"student_notes,omitempty"`
	AdminNotes      *string       `db:"admin_notes" json:"admin_notes,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedBy       string        `db:"created_by" json:"created_by"`
	Version         int           `db:"version" json:"version"`
	DaysPending     int           `db:"days_pending" json:"days_pending"`
	ReminderCount   int           `db:"reminder_count" json:"reminder_count"`
	LastReminderAt  *time.Time    `db:"last_reminder_at" json:"last_reminder_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	SubmittedAt     *time.Time    `db:"submitted_at" json:"submitted_at,omitempty"`
	DecidedAt       *time.Time    `db:"decided_at" json:"decided_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// RequestFormDetail bundles a form with its owned rows.
type RequestFormDetail struct {
	RequestForm
	StatusLabel   Label                `json:"status_label"`
	TypeNameAr    string               `json:"type_name_ar,omitempty"`
	TypeNameEn    string               `json:"type_name_en,omitempty"`
	Steps         []ApprovalStep       `json:"approval_steps"`
	Attachments   []Attachment         `json:"attachments"`
	Courses       []RequestCourse      `json:"courses,omitempty"`
	Equivalencies []RequestEquivalency `json:"equivalencies,omitempty"`
}

// RequestFormFilter narrows listing queries.
type RequestFormFilter struct {
	StudentID    *int64
	RequestType  string
	Status       []RequestStatus
	DepartmentID *int64
	CollegeID    *int64
	Search       string
	Page         int
	PageSize     int
}

// PendingRequestFilter scopes an approver worklist.
type PendingRequestFilter struct {
	Role         ApprovalRole
	DepartmentID *int64
	CollegeID    *int64
}

// StepStatus captures the decision recorded on an approval step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "PENDING"
	StepStatusApproved StepStatus = "APPROVED"
	StepStatusRejected StepStatus = "REJECTED"
	StepStatusReturned StepStatus = "RETURNED"
	StepStatusSkipped  StepStatus = "SKIPPED"
)

// ApprovalStep is one position in a request's resolved workflow.
type ApprovalStep struct {
	ID              int64        `db:"id" json:"id"`
	RequestFormID   int64        `db:"request_form_id" json:"request_form_id"`
	StepNumber      int          `db:"step_number" json:"step_number"`
	ApproverRole    ApprovalRole `db:"approver_role" json:"approver_role"`
	ApproverTitleAr string       `db:"approver_title_ar" json:"approver_title_ar"`
	ApproverTitleEn string       `db:"approver_title_en" json:"approver_title_en"`
	ApproverID      *string      `db:"approver_id" json:"approver_id,omitempty"`
	Status          StepStatus   `db:"status" json:"status"`
	Comments        *string      `db:"comments" json:"comments,omitempty"`
	RejectionReason *string      `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ActionAt        *time.Time   `db:"action_at" json:"action_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Attachment stores supporting document metadata. The storage key never leaves the service.
type Attachment struct {
	ID             int64          `db:"id" json:"id"`
	RequestFormID  int64          `db:"request_form_id" json:"request_form_id"`
	AttachmentType AttachmentType `db:"attachment_type" json:"attachment_type"`
	FileName       string         `db:"file_name" json:"file_name"`
	StorageKey     string         `db:"storage_key" json:"-"`
	ContentType    string         `db:"content_type" json:"content_type"`
	SizeBytes      int64          `db:"size_bytes" json:"size_bytes"`
	Description    *string        `db:"description" json:"description,omitempty"`
	Verified       bool           `db:"verified" json:"verified"`
	VerifiedBy     *string        `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time     `db:"verified_at" json:"verified_at,omitempty"`
	UploadedBy     string         `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// LineItemStatus is the independent disposition of a course or equivalency row.
type LineItemStatus string

const (
	LineItemPending  LineItemStatus = "PENDING"
	LineItemApproved LineItemStatus = "APPROVED"
	LineItemRejected LineItemStatus = "REJECTED"
)

// RequestCourse is a course line item of a registration request.
type RequestCourse struct {
	ID              int64          `db:"id" json:"id"`
	RequestFormID   int64          `db:"request_form_id" json:"request_form_id"`
	CourseID        int64          `db:"course_id" json:"course_id"`
	Section         *string        `db:"section" json:"section,omitempty"`
	Reason          *string        `db:"reason" json:"reason,omitempty"`
	Status          LineItemStatus `db:"status" json:"status"`
	RejectionReason *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy      *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// RequestEquivalency claims an external course matches an internal one.
type RequestEquivalency struct {
	ID                 int64          `db:"id" json:"id"`
	RequestFormID      int64          `db:"request_form_id" json:"request_form_id"`
	TargetCourseID     *int64         `db:"target_course_id" json:"target_course_id,omitempty"`
	SourceCourseCode   string         `db:"source_course_code" json:"source_course_code"`
	SourceCourseNameAr *string        `db:"source_course_name_ar" json:"source_course_name_ar,omitempty"`
	SourceCourseNameEn *string        `db:"source_course_name_en" json:"source_course_name_en,omitempty"`
	SourceCredits      int            `db:"source_credits" json:"source_credits"`
	SourceGrade        *string        `db:"source_grade" json:"source_grade,omitempty"`
	Status             LineItemStatus `db:"status" json:"status"`
	RejectionReason    *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy         *string        `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time     `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
}

// LineItemDecision records the disposition of a course or equivalency row.
type LineItemDecision struct {
	Status          LineItemStatus
	RejectionReason *string
	ReviewedBy      string
	ReviewedAt      time.Time
}

// RequestStatistics aggregates request counts for dashboards.
type RequestStatistics struct {
	Total            int64            `json:"total"`
	Pending          int64            `json:"pending"`
	Approved         int64            `json:"approved"`
	Rejected         int64            `json:"rejected"`
	Completed        int64            `json:"completed"`
	Cancelled        int64            `json:"cancelled"`
	Draft            int64            `json:"draft"`
	ByStatus         map[string]int64 `json:"by_status"`
	ByType           map[string]int64 `json:"by_type"`
	AvgDecisionHours *float64         `json:"avg_decision_hours,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// StatisticsFilter scopes statistics to a department or college.
type StatisticsFilter struct {
	DepartmentID *int64
	CollegeID    *int64
}

// StudentRef is the subset of the student directory needed for attribution.
type StudentRef struct {
	ID           int64  `db:"id" json:"id"`
	UserID       string `db:"user_id" json:"user_id"`
	DepartmentID *int64 `db:"department_id" json:"department_id,omitempty"`
	CollegeID    *int64 `db:"college_id" json:"college_id,omitempty"`
	ProgramID    *int64 `db:"program_id" json:"program_id,omitempty"`
}

// ReminderCandidate is an in-progress form inspected by the reminder job.
type ReminderCandidate struct {
	ID             int64         `db:"id"`
	RequestNumber  *string       `db:"request_number"`
	Status         RequestStatus `db:"status"`
	ApproverRole   ApprovalRole  `db:"approver_role"`
	SubmittedAt    time.Time     `db:"submitted_at"`
	LastActionAt   *time.Time    `db:"last_action_at"`
	ReminderCount  int           `db:"reminder_count"`
	LastReminderAt *time.Time    `db:"last_reminder_at"`
}
