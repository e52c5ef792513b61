package registry

import "github.com/noah-isme/sis-request-api/internal/models"

// Request type codes.
const (
	TypeExceptionalRegistration = "EXCEPTIONAL_REGISTRATION"
	TypeSemesterPostpone        = "SEMESTER_POSTPONE"
	TypeSemesterFreeze          = "SEMESTER_FREEZE"
	TypeSemesterWithdrawal      = "SEMESTER_WITHDRAWAL"
	TypeReEnrollment            = "RE_ENROLLMENT"
	TypeCourseEquivalency       = "COURSE_EQUIVALENCY"
	TypeExamRetake              = "EXAM_RETAKE"
	TypeGradeReview             = "GRADE_REVIEW"
	TypeMajorChange             = "MAJOR_CHANGE"
	TypeStudyPlanExtension      = "STUDY_PLAN_EXTENSION"
)

var roleLabels = map[models.ApprovalRole]models.Label{
	models.ApprovalRoleDeptHead:         {Ar: "رئيس القسم", En: "Department Head"},
	models.ApprovalRoleCurrentDeptHead:  {Ar: "رئيس القسم الحالي", En: "Current Department Head"},
	models.ApprovalRoleNewDeptHead:      {Ar: "رئيس القسم الجديد", En: "New Department Head"},
	models.ApprovalRoleDean:             {Ar: "عميد الكلية", En: "College Dean"},
	models.ApprovalRoleAcademicAffairs:  {Ar: "الشؤون الأكاديمية", En: "Academic Affairs"},
	models.ApprovalRoleStudentAffairs:   {Ar: "شؤون الطلبة", En: "Student Affairs"},
	models.ApprovalRoleFinance:          {Ar: "المالية", En: "Finance"},
	models.ApprovalRoleAdmissions:       {Ar: "القبول والتسجيل", En: "Admissions & Registration"},
	models.ApprovalRoleCourseInstructor: {Ar: "مدرس المساق", En: "Course Instructor"},
	models.ApprovalRoleAdvisor:          {Ar: "المرشد الأكاديمي", En: "Academic Advisor"},
	models.ApprovalRoleDepartment:       {Ar: "القسم", En: "Department"},
}

var attachmentLabels = map[models.AttachmentType]models.Label{
	models.AttachmentInstructorSupportLetter: {Ar: "كتاب دعم من مدرس المساق", En: "Instructor Support Letter"},
	models.AttachmentDepartmentSupportLetter: {Ar: "كتاب دعم من القسم", En: "Department Support Letter"},
	models.AttachmentPaymentReceipt:          {Ar: "إيصال الدفع", En: "Payment Receipt"},
	models.AttachmentMedicalReport:           {Ar: "تقرير طبي", En: "Medical Report"},
	models.AttachmentOfficialDocument:        {Ar: "وثيقة رسمية", En: "Official Document"},
	models.AttachmentTranscript:              {Ar: "كشف العلامات", En: "Transcript"},
	models.AttachmentCourseDescription:       {Ar: "وصف المساقات", En: "Course Description"},
	models.AttachmentIDCopy:                  {Ar: "صورة الهوية", En: "ID Copy"},
	models.AttachmentOther:                   {Ar: "أخرى", En: "Other"},
}

func float(v float64) *float64 { return &v }

var (
	fieldProgram    = models.FieldSpec{Name: "program_id", Type: models.FieldSelect, Required: true, LabelAr: "البرنامج", LabelEn: "Program", Reference: models.ReferenceProgram}
	fieldDepartment = models.FieldSpec{Name: "department_id", Type: models.FieldSelect, Required: true, LabelAr: "التخصص", LabelEn: "Major", Reference: models.ReferenceDepartment}
	fieldPhone      = models.FieldSpec{Name: "phone", Type: models.FieldTel, Required: true, LabelAr: "رقم الهاتف", LabelEn: "Phone"}
	fieldCourse     = models.FieldSpec{Name: "course_id", Type: models.FieldSelect, Required: true, LabelAr: "المساق", LabelEn: "Course", Reference: models.ReferenceCourse}
)

var reasonTypeOptions = []models.FieldOption{
	{Value: "MEDICAL", LabelAr: "صحي", LabelEn: "Medical"},
	{Value: "SOCIAL", LabelAr: "اجتماعي", LabelEn: "Social"},
	{Value: "FINANCIAL", LabelAr: "مالي", LabelEn: "Financial"},
	{Value: "MILITARY", LabelAr: "عسكري", LabelEn: "Military"},
	{Value: "WORK", LabelAr: "عمل", LabelEn: "Work"},
	{Value: "OTHER", LabelAr: "أخرى", LabelEn: "Other"},
}

func semesterField(labelAr, labelEn string) models.FieldSpec {
	return models.FieldSpec{Name: "semester_id", Type: models.FieldSelect, Required: true, LabelAr: labelAr, LabelEn: labelEn, Reference: models.ReferenceSemester}
}

func reasonField(labelAr, labelEn string) models.FieldSpec {
	return models.FieldSpec{Name: "reason", Type: models.FieldTextarea, Required: true, LabelAr: labelAr, LabelEn: labelEn}
}

func countField(name, labelAr, labelEn string) models.FieldSpec {
	return models.FieldSpec{Name: name, Type: models.FieldNumber, Required: true, LabelAr: labelAr, LabelEn: labelEn, Min: float(0)}
}

func defaultCatalog() []models.RequestType {
	return []models.RequestType{
		{
			Code: TypeExceptionalRegistration, Prefix: "ER",
			NameAr: "طلب تسجيل استثنائي / متأخر", NameEn: "Exceptional/Late Registration Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleDeptHead, models.ApprovalRoleDean},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				semesterField("الفصل الدراسي الحالي", "Current Semester"),
				{Name: "requested_courses", Type: models.FieldCourseSelector, Required: true, LabelAr: "المساقات المطلوب تسجيلها", LabelEn: "Courses to Register"},
				reasonField("سبب الطلب", "Reason"),
				{Name: "fees_paid", Type: models.FieldBoolean, Required: true, LabelAr: "هل تم دفع الرسوم؟", LabelEn: "Fees Paid?"},
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentInstructorSupportLetter, models.AttachmentDepartmentSupportLetter, models.AttachmentPaymentReceipt},
		},
		{
			Code: TypeSemesterPostpone, Prefix: "SP",
			NameAr: "طلب تأجيل فصل", NameEn: "Semester Postponement Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleStudentAffairs, models.ApprovalRoleDeptHead, models.ApprovalRoleFinance, models.ApprovalRoleAcademicAffairs},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				semesterField("الفصل المطلوب تأجيله", "Semester to Postpone"),
				countField("previous_postponements_count", "عدد مرات التأجيل السابقة", "Previous Postponements"),
				{Name: "postponement_reason_type", Type: models.FieldSelect, Required: true, LabelAr: "نوع السبب", LabelEn: "Reason Type", Options: reasonTypeOptions},
				reasonField("سبب التأجيل", "Reason"),
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentMedicalReport, models.AttachmentOfficialDocument, models.AttachmentOther},
		},
		{
			Code: TypeSemesterFreeze, Prefix: "SF",
			NameAr: "طلب تجميد فصل", NameEn: "Semester Freeze Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleStudentAffairs, models.ApprovalRoleDeptHead, models.ApprovalRoleFinance, models.ApprovalRoleAcademicAffairs},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				semesterField("الفصل المطلوب تجميده", "Semester to Freeze"),
				countField("previous_postponements_count", "عدد مرات التأجيل/التجميد السابقة", "Previous Postponements/Freezes"),
				{Name: "postponement_reason_type", Type: models.FieldSelect, Required: true, LabelAr: "نوع السبب", LabelEn: "Reason Type", Options: reasonTypeOptions},
				reasonField("سبب التجميد", "Reason"),
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentMedicalReport, models.AttachmentOfficialDocument, models.AttachmentOther},
		},
		{
			Code: TypeSemesterWithdrawal, Prefix: "SW",
			NameAr: "الانسحاب من فصل كامل", NameEn: "Full Semester Withdrawal",
			Workflow: []models.ApprovalRole{models.ApprovalRoleDeptHead, models.ApprovalRoleAcademicAffairs, models.ApprovalRoleStudentAffairs, models.ApprovalRoleFinance},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				semesterField("الفصل المطلوب الانسحاب منه", "Semester to Withdraw From"),
				reasonField("سبب الانسحاب", "Withdrawal Reason"),
				countField("previous_withdrawals_count", "عدد الانسحابات السابقة", "Previous Withdrawals"),
				{Name: "return_next_semester", Type: models.FieldBoolean, Required: true, LabelAr: "هل يرغب بالعودة الفصل القادم؟", LabelEn: "Return Next Semester?"},
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentMedicalReport, models.AttachmentOfficialDocument, models.AttachmentOther},
		},
		{
			Code: TypeReEnrollment, Prefix: "RE",
			NameAr: "إعادة القيد", NameEn: "Re-enrollment Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleAdmissions, models.ApprovalRoleAcademicAffairs},
			Fields: []models.FieldSpec{
				fieldDepartment,
				{Name: "return_semester_id", Type: models.FieldSelect, Required: true, LabelAr: "الفصل المطلوب العودة فيه", LabelEn: "Return Semester", Reference: models.ReferenceSemester},
				{Name: "postponement_date", Type: models.FieldDate, Required: true, LabelAr: "تاريخ التأجيل/التجميد", LabelEn: "Postponement/Freeze Date"},
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentOfficialDocument},
		},
		{
			Code: TypeCourseEquivalency, Prefix: "CE",
			NameAr: "طلب معادلة مواد", NameEn: "Course Equivalency Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleAcademicAffairs, models.ApprovalRoleFinance, models.ApprovalRoleDean},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				{Name: "previous_institution", Type: models.FieldText, Required: true, LabelAr: "الجامعة/الجهة التي درس بها سابقًا", LabelEn: "Previous Institution"},
				{Name: "courses_to_equate", Type: models.FieldEquivalencyTable, Required: true, LabelAr: "قائمة المواد المطلوب معادلتها", LabelEn: "Courses to Equate"},
				fieldPhone,
			},
			RequiredAttachments: []models.AttachmentType{models.AttachmentTranscript, models.AttachmentCourseDescription},
		},
		{
			Code: TypeExamRetake, Prefix: "EX",
			NameAr: "طلب إعادة امتحان", NameEn: "Exam Retake Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleCourseInstructor, models.ApprovalRoleStudentAffairs},
			Fields: []models.FieldSpec{
				fieldCourse,
				{Name: "exam_type", Type: models.FieldSelect, Required: true, LabelAr: "نوع الامتحان", LabelEn: "Exam Type", Options: []models.FieldOption{
					{Value: "FIRST", LabelAr: "أول", LabelEn: "First"},
					{Value: "MIDTERM", LabelAr: "نصفي", LabelEn: "Midterm"},
					{Value: "FINAL", LabelAr: "نهائي", LabelEn: "Final"},
				}},
				{Name: "absence_reason", Type: models.FieldTextarea, Required: true, LabelAr: "سبب عدم التقديم", LabelEn: "Absence Reason"},
				fieldPhone,
			},
			RequiredAttachments: []models.AttachmentType{models.AttachmentMedicalReport},
			OptionalAttachments: []models.AttachmentType{models.AttachmentOfficialDocument},
		},
		{
			Code: TypeGradeReview, Prefix: "GR",
			NameAr: "طلب مراجعة علامة", NameEn: "Grade Review Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleCourseInstructor, models.ApprovalRoleDeptHead},
			Fields: []models.FieldSpec{
				fieldCourse,
				{Name: "exam_type", Type: models.FieldSelect, Required: true, LabelAr: "نوع الامتحان", LabelEn: "Exam Type", Options: []models.FieldOption{
					{Value: "QUIZ", LabelAr: "كويز", LabelEn: "Quiz"},
					{Value: "MIDTERM", LabelAr: "ميد", LabelEn: "Midterm"},
					{Value: "FINAL", LabelAr: "فاينال", LabelEn: "Final"},
				}},
				{Name: "objection_reason", Type: models.FieldTextarea, Required: true, LabelAr: "سبب الاعتراض", LabelEn: "Objection Reason"},
				fieldPhone,
			},
		},
		{
			Code: TypeMajorChange, Prefix: "MC",
			NameAr: "طلب تغيير تخصص", NameEn: "Major Change Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleCurrentDeptHead, models.ApprovalRoleNewDeptHead, models.ApprovalRoleAcademicAffairs, models.ApprovalRoleStudentAffairs, models.ApprovalRoleFinance},
			Fields: []models.FieldSpec{
				{Name: "current_department_id", Type: models.FieldSelect, Required: true, LabelAr: "التخصص الحالي", LabelEn: "Current Major", Reference: models.ReferenceDepartment},
				{Name: "requested_department_id", Type: models.FieldSelect, Required: true, LabelAr: "التخصص المطلوب", LabelEn: "Requested Major", Reference: models.ReferenceDepartment},
				reasonField("سبب التغيير", "Reason for Change"),
				countField("earned_credits", "عدد الساعات المكتسبة", "Earned Credits"),
				{Name: "current_gpa", Type: models.FieldDecimal, Required: true, LabelAr: "المعدل الحالي", LabelEn: "Current GPA", Min: float(0), Max: float(4)},
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentOfficialDocument},
		},
		{
			Code: TypeStudyPlanExtension, Prefix: "PE",
			NameAr: "طلب تمديد فصول دراسية", NameEn: "Study Plan Extension Request",
			Workflow: []models.ApprovalRole{models.ApprovalRoleDeptHead, models.ApprovalRoleAcademicAffairs},
			Fields: []models.FieldSpec{
				fieldProgram,
				fieldDepartment,
				{Name: "current_study_plan", Type: models.FieldText, Required: true, LabelAr: "الخطة الحالية", LabelEn: "Current Plan"},
				{Name: "requested_study_plan", Type: models.FieldText, Required: true, LabelAr: "الخطة المطلوبة", LabelEn: "Requested Plan"},
				reasonField("سبب التغيير", "Reason"),
				fieldPhone,
			},
			OptionalAttachments: []models.AttachmentType{models.AttachmentOfficialDocument},
		},
	}
}
