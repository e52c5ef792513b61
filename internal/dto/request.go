package dto

// RequestActionRequest is the body of approve and return-for-revision actions.
// ExpectedStep pins the action to the step the approver was looking at.
// Comments are required when returning for revision.
type RequestActionRequest struct {
	Comments     *string `json:"comments"`
	ExpectedStep *int    `json:"expected_step"`
}

// RejectRequestRequest is the body of the reject action.
type RejectRequestRequest struct {
	Reason       string  `json:"reason"`
	Comments     *string `json:"comments"`
	ExpectedStep *int    `json:"expected_step"`
}

// RequestListQuery captures list filters from the query string.
type RequestListQuery struct {
	RequestType  string `form:"request_type"`
	Status       string `form:"status"`
	StudentID    *int64 `form:"student_id"`
	DepartmentID *int64 `form:"department_id"`
	CollegeID    *int64 `form:"college_id"`
	Search       string `form:"search"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}

// RequestExportQuery adds the output format to the list filters.
type RequestExportQuery struct {
	RequestListQuery
	Format string `form:"format"`
}

// PendingQuery scopes the approver worklist.
type PendingQuery struct {
	Role         string `form:"role"`
	DepartmentID *int64 `form:"department_id"`
	CollegeID    *int64 `form:"college_id"`
}

// StatisticsQuery scopes the dashboard counters.
type StatisticsQuery struct {
	DepartmentID *int64 `form:"department_id"`
	CollegeID    *int64 `form:"college_id"`
}
