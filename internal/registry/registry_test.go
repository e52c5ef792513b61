package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

func TestResolveWorkflowNonEmptyForEveryType(t *testing.T) {
	reg := Default()
	types := reg.Types()
	require.Len(t, types, 10)

	prefixes := map[string]struct{}{}
	for _, rt := range types {
		workflow, err := reg.ResolveWorkflow(rt.Code)
		require.NoError(t, err, rt.Code)
		assert.NotEmpty(t, workflow, rt.Code)
		assert.Len(t, rt.Prefix, 2)
		_, dup := prefixes[rt.Prefix]
		assert.False(t, dup, "duplicate prefix %s", rt.Prefix)
		prefixes[rt.Prefix] = struct{}{}
		for _, role := range workflow {
			assert.True(t, reg.KnownRole(role), "%s uses unknown role %s", rt.Code, role)
		}
	}
}

func TestResolveWorkflowUnknownType(t *testing.T) {
	_, err := Default().ResolveWorkflow("LIBRARY_CARD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnknownRequestType))
}

func TestResolveWorkflowReturnsCopy(t *testing.T) {
	reg := Default()
	wf, err := reg.ResolveWorkflow(TypeGradeReview)
	require.NoError(t, err)
	wf[0] = models.ApprovalRoleFinance

	again, err := reg.ResolveWorkflow(TypeGradeReview)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRoleCourseInstructor, again[0])
}

func TestNewAppliesWorkflowOverride(t *testing.T) {
	reg, err := New(map[string][]string{TypeExamRetake: {"advisor", "DEPARTMENT"}})
	require.NoError(t, err)

	wf, err := reg.ResolveWorkflow(TypeExamRetake)
	require.NoError(t, err)
	assert.Equal(t, []models.ApprovalRole{models.ApprovalRoleAdvisor, models.ApprovalRoleDepartment}, wf)

	other, err := reg.ResolveWorkflow(TypeGradeReview)
	require.NoError(t, err)
	assert.Equal(t, []models.ApprovalRole{models.ApprovalRoleCourseInstructor, models.ApprovalRoleDeptHead}, other)
}

func TestNewRejectsInvalidOverrides(t *testing.T) {
	_, err := New(map[string][]string{"UNKNOWN": {"DEAN"}})
	assert.Error(t, err)

	_, err = New(map[string][]string{TypeExamRetake: {"JANITOR"}})
	assert.Error(t, err)

	_, err = New(map[string][]string{TypeExamRetake: {}})
	assert.Error(t, err)
}

func TestSchemaIncludesAttachmentsAndWorkflowLabels(t *testing.T) {
	schema, err := Default().Schema(TypeCourseEquivalency)
	require.NoError(t, err)

	assert.Equal(t, []models.AttachmentType{models.AttachmentTranscript, models.AttachmentCourseDescription}, schema.RequiredAttachments)
	assert.NotNil(t, schema.OptionalAttachments)
	require.Len(t, schema.Workflow, 3)
	assert.Equal(t, "Academic Affairs", schema.Workflow[0].LabelEn)
	assert.Equal(t, 2, schema.Workflow[2].Step)
}

func TestMissingAttachments(t *testing.T) {
	reg := Default()
	missing, err := reg.MissingAttachments(TypeExamRetake, nil)
	require.NoError(t, err)
	assert.Equal(t, []models.AttachmentType{models.AttachmentMedicalReport}, missing)

	missing, err = reg.MissingAttachments(TypeExamRetake, []models.AttachmentType{models.AttachmentMedicalReport})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestValidateFieldsSubmission(t *testing.T) {
	reg := Default()
	fields := models.FormFields{
		"current_department_id":   float64(3),
		"requested_department_id": "7",
		"reason":                  "  better fit  ",
		"earned_credits":          float64(45),
		"current_gpa":             3.456,
		"phone":                   "0599123456",
		"favourite_colour":        "blue",
	}

	out, problems, err := reg.ValidateFields(TypeMajorChange, fields, true)
	require.NoError(t, err)
	assert.Equal(t, "unknown field", problems["favourite_colour"])
	assert.Equal(t, "must have at most 2 decimal places", problems["current_gpa"])
	assert.Equal(t, int64(3), out["current_department_id"])
	assert.Equal(t, int64(7), out["requested_department_id"])
	assert.Equal(t, "better fit", out["reason"])
}

func TestValidateFieldsDecimalRange(t *testing.T) {
	reg := Default()
	base := models.FormFields{
		"current_department_id":   float64(3),
		"requested_department_id": float64(4),
		"reason":                  "x",
		"earned_credits":          float64(10),
		"phone":                   "+970599123456",
	}

	base["current_gpa"] = 4.5
	_, problems, err := reg.ValidateFields(TypeMajorChange, base, true)
	require.NoError(t, err)
	assert.Equal(t, "must be at most 4", problems["current_gpa"])

	base["current_gpa"] = "3.5"
	out, problems, err := reg.ValidateFields(TypeMajorChange, base, true)
	require.NoError(t, err)
	assert.True(t, problems.Empty(), "%v", problems)
	assert.Equal(t, "3.50", out["current_gpa"])
}

func TestValidateFieldsDraftAllowsMissing(t *testing.T) {
	reg := Default()
	_, problems, err := reg.ValidateFields(TypeGradeReview, models.FormFields{"exam_type": "FINAL"}, false)
	require.NoError(t, err)
	assert.True(t, problems.Empty())

	_, problems, err = reg.ValidateFields(TypeGradeReview, models.FormFields{"exam_type": "FINAL"}, true)
	require.NoError(t, err)
	assert.Equal(t, "is required", problems["course_id"])
	assert.Equal(t, "is required", problems["objection_reason"])
	assert.Equal(t, "is required", problems["phone"])
}

func TestValidateFieldsSelectOptions(t *testing.T) {
	_, problems, err := Default().ValidateFields(TypeGradeReview, models.FormFields{"exam_type": "FIRST"}, false)
	require.NoError(t, err)
	assert.Contains(t, problems["exam_type"], "must be one of")
}

func TestValidateFieldsCourseSelectorAndReferences(t *testing.T) {
	reg := Default()
	fields := models.FormFields{
		"program_id":    float64(1),
		"department_id": float64(2),
		"semester_id":   float64(9),
		"requested_courses": []interface{}{
			map[string]interface{}{"course_id": float64(101), "section": "A"},
			map[string]interface{}{"course_id": float64(102)},
		},
		"reason":    "late payment",
		"fees_paid": true,
		"phone":     "059 912 3456",
	}
	out, problems, err := reg.ValidateFields(TypeExceptionalRegistration, fields, true)
	require.NoError(t, err)
	require.True(t, problems.Empty(), "%v", problems)

	courses, equivalencies, err := reg.LineItems(TypeExceptionalRegistration, out)
	require.NoError(t, err)
	assert.Len(t, courses, 2)
	assert.Empty(t, equivalencies)

	refs, err := reg.References(TypeExceptionalRegistration, out)
	require.NoError(t, err)
	kinds := map[models.ReferenceKind]int{}
	for _, ref := range refs {
		kinds[ref.Kind]++
	}
	assert.Equal(t, 2, kinds[models.ReferenceCourse])
	assert.Equal(t, 1, kinds[models.ReferenceProgram])
	assert.Equal(t, 1, kinds[models.ReferenceDepartment])
	assert.Equal(t, 1, kinds[models.ReferenceSemester])
}

func TestValidateFieldsRejectsDuplicateCourses(t *testing.T) {
	fields := models.FormFields{
		"requested_courses": []interface{}{
			map[string]interface{}{"course_id": float64(5)},
			map[string]interface{}{"course_id": float64(5)},
		},
	}
	_, problems, err := Default().ValidateFields(TypeExceptionalRegistration, fields, false)
	require.NoError(t, err)
	assert.Contains(t, problems["requested_courses"], "more than once")
}

func TestValidateFieldsEquivalencyTable(t *testing.T) {
	fields := models.FormFields{
		"courses_to_equate": []interface{}{
			map[string]interface{}{"source_course_code": "CS101", "source_credits": float64(3), "target_course_id": float64(11)},
			map[string]interface{}{"source_course_code": "", "source_credits": float64(3)},
		},
	}
	_, problems, err := Default().ValidateFields(TypeCourseEquivalency, fields, false)
	require.NoError(t, err)
	assert.Equal(t, "row 2 is invalid", problems["courses_to_equate"])
}

func TestValidateFieldsDateAndPhone(t *testing.T) {
	fields := models.FormFields{
		"postponement_date": "12/01/2024",
		"phone":             "call me",
	}
	_, problems, err := Default().ValidateFields(TypeReEnrollment, fields, false)
	require.NoError(t, err)
	assert.Contains(t, problems["postponement_date"], "YYYY-MM-DD")
	assert.Equal(t, "must be a valid phone number", problems["phone"])
}
