package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-request-api/internal/models"
)

const attachmentColumns = `id, request_form_id, attachment_type, file_name, storage_key, content_type, size_bytes, description,
       verified, verified_by, verified_at, uploaded_by, created_at`

// AttachmentRepository persists request attachment metadata.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts attachment metadata.
func (r *AttachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO request_attachments
	(request_form_id, attachment_type, file_name, storage_key, content_type, size_bytes, description, verified, uploaded_by, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		attachment.RequestFormID, attachment.AttachmentType, attachment.FileName, attachment.StorageKey,
		attachment.ContentType, attachment.SizeBytes, attachment.Description, attachment.UploadedBy, attachment.CreatedAt,
	).Scan(&attachment.ID); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// Get fetches one attachment scoped to its form.
func (r *AttachmentRepository) Get(ctx context.Context, formID, id int64) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM request_attachments WHERE id = $1 AND request_form_id = $2`
	var attachment models.Attachment
	if err := r.db.GetContext(ctx, &attachment, query, id, formID); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// GetByID fetches an attachment without form scoping. Used to serve signed downloads.
func (r *AttachmentRepository) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	var attachment models.Attachment
	if err := r.db.GetContext(ctx, &attachment, `SELECT `+attachmentColumns+` FROM request_attachments WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// ListByForm returns a form's attachments in upload order.
func (r *AttachmentRepository) ListByForm(ctx context.Context, formID int64) ([]models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM request_attachments WHERE request_form_id = $1 ORDER BY created_at, id`
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, query, formID); err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	return attachments, nil
}

// Delete removes attachment metadata.
func (r *AttachmentRepository) Delete(ctx context.Context, formID, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM request_attachments WHERE id = $1 AND request_form_id = $2`, id, formID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check attachment delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkVerified flags an attachment as checked by staff.
func (r *AttachmentRepository) MarkVerified(ctx context.Context, formID, id int64, verifiedBy string, at time.Time) (*models.Attachment, error) {
	query := `UPDATE request_attachments SET verified = TRUE, verified_by = $1, verified_at = $2
	WHERE id = $3 AND request_form_id = $4 RETURNING ` + attachmentColumns
	var attachment models.Attachment
	if err := r.db.GetContext(ctx, &attachment, query, verifiedBy, at, id, formID); err != nil {
		return nil, err
	}
	return &attachment, nil
}
