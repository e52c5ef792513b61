package models

// ApprovalRole identifies the organisational role required to act on a workflow step.
type ApprovalRole string

const (
	ApprovalRoleDeptHead         ApprovalRole = "DEPT_HEAD"
	ApprovalRoleCurrentDeptHead  ApprovalRole = "CURRENT_DEPT_HEAD"
	ApprovalRoleNewDeptHead      ApprovalRole = "NEW_DEPT_HEAD"
	ApprovalRoleDean             ApprovalRole = "DEAN"
	ApprovalRoleAcademicAffairs  ApprovalRole = "ACADEMIC_AFFAIRS"
	ApprovalRoleStudentAffairs   ApprovalRole = "STUDENT_AFFAIRS"
	ApprovalRoleFinance          ApprovalRole = "FINANCE"
	ApprovalRoleAdmissions       ApprovalRole = "ADMISSIONS"
	ApprovalRoleCourseInstructor ApprovalRole = "COURSE_INSTRUCTOR"
	ApprovalRoleAdvisor          ApprovalRole = "ADVISOR"
	ApprovalRoleDepartment       ApprovalRole = "DEPARTMENT"
)

// PendingStatus maps the role at the current step to the form status shown while waiting on it.
func (r ApprovalRole) PendingStatus() RequestStatus {
	switch r {
	case ApprovalRoleDeptHead, ApprovalRoleCurrentDeptHead, ApprovalRoleNewDeptHead, ApprovalRoleDepartment:
		return RequestStatusPendingDept
	case ApprovalRoleDean:
		return RequestStatusPendingDean
	case ApprovalRoleAcademicAffairs:
		return RequestStatusPendingAcademic
	case ApprovalRoleStudentAffairs:
		return RequestStatusPendingStudentAffairs
	case ApprovalRoleFinance:
		return RequestStatusPendingFinance
	case ApprovalRoleAdmissions:
		return RequestStatusPendingAdmissions
	default:
		return RequestStatusUnderReview
	}
}

// Label is a bilingual display name.
type Label struct {
	Ar string `json:"ar"`
	En string `json:"en"`
}

// AttachmentType classifies supporting documents.
type AttachmentType string

const (
	AttachmentInstructorSupportLetter AttachmentType = "INSTRUCTOR_SUPPORT_LETTER"
	AttachmentDepartmentSupportLetter AttachmentType = "DEPARTMENT_SUPPORT_LETTER"
	AttachmentPaymentReceipt          AttachmentType = "PAYMENT_RECEIPT"
	AttachmentMedicalReport           AttachmentType = "MEDICAL_REPORT"
	AttachmentOfficialDocument        AttachmentType = "OFFICIAL_DOCUMENT"
	AttachmentTranscript              AttachmentType = "TRANSCRIPT"
	AttachmentCourseDescription       AttachmentType = "COURSE_DESCRIPTION"
	AttachmentIDCopy                  AttachmentType = "ID_COPY"
	AttachmentOther                   AttachmentType = "OTHER"
)

// AttachmentTypes lists every accepted attachment classification.
var AttachmentTypes = []AttachmentType{
	AttachmentInstructorSupportLetter,
	AttachmentDepartmentSupportLetter,
	AttachmentPaymentReceipt,
	AttachmentMedicalReport,
	AttachmentOfficialDocument,
	AttachmentTranscript,
	AttachmentCourseDescription,
	AttachmentIDCopy,
	AttachmentOther,
}

// Valid reports whether the attachment type is known.
func (t AttachmentType) Valid() bool {
	for _, known := range AttachmentTypes {
		if known == t {
			return true
		}
	}
	return false
}

// FieldType enumerates the dynamic form field kinds.
type FieldType string

const (
	FieldText             FieldType = "text"
	FieldTextarea         FieldType = "textarea"
	FieldTel              FieldType = "tel"
	FieldSelect           FieldType = "select"
	FieldNumber           FieldType = "number"
	FieldDecimal          FieldType = "decimal"
	FieldBoolean          FieldType = "boolean"
	FieldDate             FieldType = "date"
	FieldCourseSelector   FieldType = "course_selector"
	FieldEquivalencyTable FieldType = "equivalency_table"
)

// ReferenceKind names the external reference table a field points at.
type ReferenceKind string

const (
	ReferenceCourse     ReferenceKind = "course"
	ReferenceDepartment ReferenceKind = "department"
	ReferenceProgram    ReferenceKind = "program"
	ReferenceSemester   ReferenceKind = "semester"
)

// FieldOption is one allowed value of a select field.
type FieldOption struct {
	Value   string `json:"value"`
	LabelAr string `json:"label_ar"`
	LabelEn string `json:"label_en"`
}

// FieldSpec describes one dynamic field of a request type.
type FieldSpec struct {
	Name      string        `json:"name"`
	Type      FieldType     `json:"type"`
	Required  bool          `json:"required"`
	LabelAr   string        `json:"label_ar"`
	LabelEn   string        `json:"label_en"`
	Options   []FieldOption `json:"options,omitempty"`
	Reference ReferenceKind `json:"reference,omitempty"`
	Min       *float64      `json:"min,omitempty"`
	Max       *float64      `json:"max,omitempty"`
}

// RequestType is a registered student request kind.
type RequestType struct {
	Code                string           `json:"code"`
	NameAr              string           `json:"name_ar"`
	NameEn              string           `json:"name_en"`
	Prefix              string           `json:"prefix"`
	Workflow            []ApprovalRole   `json:"workflow"`
	Fields              []FieldSpec      `json:"fields"`
	RequiredAttachments []AttachmentType `json:"required_attachments"`
	OptionalAttachments []AttachmentType `json:"optional_attachments"`
}

// Field returns the definition of the named field.
func (t RequestType) Field(name string) (FieldSpec, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// WorkflowStepView renders one role of a resolved workflow.
type WorkflowStepView struct {
	Step    int          `json:"step"`
	Role    ApprovalRole `json:"role"`
	LabelAr string       `json:"label_ar"`
	LabelEn string       `json:"label_en"`
}

// RequestTypeSummary is the registry listing returned by GET /requests/types.
type RequestTypeSummary struct {
	Code     string             `json:"code"`
	NameAr   string             `json:"name_ar"`
	NameEn   string             `json:"name_en"`
	Workflow []WorkflowStepView `json:"workflow"`
}

// RequestTypeSchema is the form schema returned by GET /requests/types/:code/schema.
type RequestTypeSchema struct {
	RequestType         string             `json:"request_type"`
	NameAr              string             `json:"name_ar"`
	NameEn              string             `json:"name_en"`
	Fields              []FieldSpec        `json:"fields"`
	RequiredAttachments []AttachmentType   `json:"required_attachments"`
	OptionalAttachments []AttachmentType   `json:"optional_attachments"`
	Workflow            []WorkflowStepView `json:"workflow"`
}
