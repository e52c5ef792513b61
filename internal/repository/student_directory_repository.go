package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-request-api/internal/models"
)

// StudentDirectoryRepository reads student attribution from the shared SIS schema.
type StudentDirectoryRepository struct {
	db *sqlx.DB
}

// NewStudentDirectoryRepository constructs the repository.
func NewStudentDirectoryRepository(db *sqlx.DB) *StudentDirectoryRepository {
	return &StudentDirectoryRepository{db: db}
}

const studentRefQuery = `SELECT s.id, s.user_id, s.department_id, d.college_id, s.program_id
FROM students s
LEFT JOIN departments d ON d.id = s.department_id`

// GetStudent resolves department, college and program of a student.
func (r *StudentDirectoryRepository) GetStudent(ctx context.Context, id int64) (*models.StudentRef, error) {
	var ref models.StudentRef
	if err := r.db.GetContext(ctx, &ref, studentRefQuery+` WHERE s.id = $1`, id); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetStudentByUserID resolves the student record linked to a login account.
func (r *StudentDirectoryRepository) GetStudentByUserID(ctx context.Context, userID string) (*models.StudentRef, error) {
	var ref models.StudentRef
	if err := r.db.GetContext(ctx, &ref, studentRefQuery+` WHERE s.user_id = $1`, userID); err != nil {
		return nil, err
	}
	return &ref, nil
}
