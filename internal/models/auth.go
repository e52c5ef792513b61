package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the JWT payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	// ApprovalRoles lists the workflow roles the holder may act as, e.g. DEPT_HEAD.
	ApprovalRoles []string `json:"approval_roles,omitempty"`
	StudentID     *int64   `json:"student_id,omitempty"`
	DepartmentID  *int64   `json:"department_id,omitempty"`
	CollegeID     *int64   `json:"college_id,omitempty"`
	jwt.RegisteredClaims
}

// HasApprovalRole reports whether the claims grant the given workflow role.
func (c *JWTClaims) HasApprovalRole(role ApprovalRole) bool {
	if c == nil {
		return false
	}
	for _, r := range c.ApprovalRoles {
		if ApprovalRole(r) == role {
			return true
		}
	}
	return false
}

// Actor identifies who performs an operation.
type Actor struct {
	UserID    string
	Role      UserRole
	StudentID *int64
}

// ActorFromClaims derives the acting identity from token claims.
func ActorFromClaims(c *JWTClaims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{UserID: c.UserID, Role: c.Role, StudentID: c.StudentID}
}

// IsStudent reports whether the actor is a student account.
func (a Actor) IsStudent() bool {
	return a.Role == RoleStudent
}

// Owns reports whether the actor is the student who filed the request.
func (a Actor) Owns(studentID int64) bool {
	return a.StudentID != nil && *a.StudentID == studentID
}
