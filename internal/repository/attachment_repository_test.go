package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-request-api/internal/models"
)

var attachmentRowColumns = []string{"id", "request_form_id", "attachment_type", "file_name", "storage_key", "content_type", "size_bytes", "description",
	"verified", "verified_by", "verified_at", "uploaded_by", "created_at"}

func TestAttachmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAttachmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO request_attachments")).
		WithArgs(int64(11), models.AttachmentMedicalReport, "report.pdf", "requests/11/abc.pdf", "application/pdf", int64(2048),
			sqlmock.AnyArg(), "user-42", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	attachment := &models.Attachment{
		RequestFormID:  11,
		AttachmentType: models.AttachmentMedicalReport,
		FileName:       "report.pdf",
		StorageKey:     "requests/11/abc.pdf",
		ContentType:    "application/pdf",
		SizeBytes:      2048,
		UploadedBy:     "user-42",
	}
	require.NoError(t, repo.Create(context.Background(), attachment))
	require.Equal(t, int64(5), attachment.ID)
	require.False(t, attachment.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryDeleteScopedToForm(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAttachmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM request_attachments WHERE id = $1 AND request_form_id = $2")).
		WithArgs(int64(5), int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), 12, 5)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryMarkVerified(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAttachmentRepository(db)
	at := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE request_attachments SET verified = TRUE")).
		WithArgs("staff-1", at, int64(5), int64(11)).
		WillReturnRows(sqlmock.NewRows(attachmentRowColumns).
			AddRow(int64(5), int64(11), "MEDICAL_REPORT", "report.pdf", "requests/11/abc.pdf", "application/pdf", int64(2048), nil,
				true, "staff-1", at, "user-42", at))

	attachment, err := repo.MarkVerified(context.Background(), 11, 5, "staff-1", at)
	require.NoError(t, err)
	require.True(t, attachment.Verified)
	require.Equal(t, "staff-1", *attachment.VerifiedBy)
	require.Equal(t, "requests/11/abc.pdf", attachment.StorageKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryListByForm(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAttachmentRepository(db)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM request_attachments WHERE request_form_id = $1 ORDER BY created_at, id")).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows(attachmentRowColumns).
			AddRow(int64(5), int64(11), "TRANSCRIPT", "t.pdf", "requests/11/a.pdf", "application/pdf", int64(10), nil, false, nil, nil, "user-42", now).
			AddRow(int64(6), int64(11), "ID_COPY", "id.png", "requests/11/b.png", "image/png", int64(20), nil, false, nil, nil, "user-42", now))

	list, err := repo.ListByForm(context.Background(), 11)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, models.AttachmentIDCopy, list[1].AttachmentType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAttachmentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM request_attachments WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(attachmentRowColumns).
			AddRow(int64(9), int64(11), "MEDICAL_REPORT", "r.pdf", "requests/11/c.pdf", "application/pdf", int64(10), nil, false, nil, nil, "user-42", time.Now()))

	attachment, err := repo.GetByID(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, "requests/11/c.pdf", attachment.StorageKey)

	mock.ExpectQuery(regexp.QuoteMeta("FROM request_attachments WHERE id = $1")).
		WithArgs(int64(10)).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetByID(context.Background(), 10)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReferenceRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewReferenceRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM courses WHERE id = $1)")).
		WithArgs(int64(301)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM semesters WHERE id = $1)")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.Exists(context.Background(), models.ReferenceCourse, 301)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Exists(context.Background(), models.ReferenceSemester, 9)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = repo.Exists(context.Background(), models.ReferenceKind("building"), 1)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentDirectoryRepositoryGetStudent(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewStudentDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN departments d ON d.id = s.department_id WHERE s.user_id = $1")).
		WithArgs("user-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "department_id", "college_id", "program_id"}).
			AddRow(int64(42), "user-42", int64(3), int64(1), nil))

	ref, err := repo.GetStudentByUserID(context.Background(), "user-42")
	require.NoError(t, err)
	require.Equal(t, int64(42), ref.ID)
	require.Equal(t, int64(1), *ref.CollegeID)
	require.Nil(t, ref.ProgramID)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.id = $1")).
		WithArgs(int64(77)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "department_id", "college_id", "program_id"}))
	_, err = repo.GetStudent(context.Background(), 77)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newRequestFormRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	resourceID := "11"
	entry := &models.AuditLog{Action: models.AuditActionRequestTransition, Resource: models.AuditResourceRequestForm, ResourceID: &resourceID}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	require.NotEmpty(t, entry.ID)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE resource = $1 AND resource_id = $2 ORDER BY created_at ASC LIMIT $3")).
		WithArgs(models.AuditResourceRequestForm, "11", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource", "resource_id", "old_values", "new_values", "ip_address", "user_agent", "created_at"}).
			AddRow(entry.ID, "user-42", models.AuditActionRequestTransition, models.AuditResourceRequestForm, "11", nil, []byte(`{"status":"PENDING_DEPT"}`), "", "", now))

	logs, err := repo.ListByResource(context.Background(), models.AuditResourceRequestForm, "11", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.JSONEq(t, `{"status":"PENDING_DEPT"}`, string(logs[0].NewValues))
	require.NoError(t, mock.ExpectationsWereMet())
}
