package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-request-api/internal/models"
)

var referenceTables = map[models.ReferenceKind]string{
	models.ReferenceCourse:     "courses",
	models.ReferenceDepartment: "departments",
	models.ReferenceProgram:    "programs",
	models.ReferenceSemester:   "semesters",
}

// ReferenceRepository answers existence checks against read-only reference data.
type ReferenceRepository struct {
	db *sqlx.DB
}

// NewReferenceRepository constructs the repository.
func NewReferenceRepository(db *sqlx.DB) *ReferenceRepository {
	return &ReferenceRepository{db: db}
}

// Exists reports whether a row of the given kind exists.
func (r *ReferenceRepository) Exists(ctx context.Context, kind models.ReferenceKind, id int64) (bool, error) {
	table, ok := referenceTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown reference kind %q", kind)
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table), id); err != nil {
		return false, fmt.Errorf("check %s reference: %w", kind, err)
	}
	return exists, nil
}
