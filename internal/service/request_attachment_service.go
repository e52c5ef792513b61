package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/storage"
)

const (
	defaultMaxAttachmentBytes = 10 << 20
	sniffLength               = 3072
)

var allowedAttachmentTypes = []string{
	"application/pdf",
	"image/jpeg",
	"image/png",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// attachmentExtensions lists the file name extensions a sniffed type may carry.
var attachmentExtensions = map[string][]string{
	"application/pdf":    {".pdf"},
	"image/jpeg":         {".jpg", ".jpeg"},
	"image/png":          {".png"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
}

// extensionMatches reports whether the declared name agrees with the sniffed
// content. A name without an extension claims nothing and is accepted.
func extensionMatches(fileName, contentType string) bool {
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(fileName, "\\", "/")))
	if ext == "" {
		return true
	}
	for _, allowed := range attachmentExtensions[contentType] {
		if ext == allowed {
			return true
		}
	}
	return false
}

// BlobStorage persists attachment content. Implemented by storage.LocalStorage and storage.MinioStorage.
type BlobStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type attachmentStore interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	Get(ctx context.Context, formID, id int64) (*models.Attachment, error)
	GetByID(ctx context.Context, id int64) (*models.Attachment, error)
	ListByForm(ctx context.Context, formID int64) ([]models.Attachment, error)
	Delete(ctx context.Context, formID, id int64) error
	MarkVerified(ctx context.Context, formID, id int64, verifiedBy string, at time.Time) (*models.Attachment, error)
}

type requestFormReader interface {
	GetByID(ctx context.Context, id int64) (*models.RequestForm, error)
}

// AttachmentUpload describes one uploaded file.
type AttachmentUpload struct {
	AttachmentType models.AttachmentType
	FileName       string
	Size           int64
	Description    *string
	Content        io.Reader
}

// DownloadLink is a time limited URL to an attachment.
type DownloadLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestAttachmentService stores supporting documents of student requests.
type RequestAttachmentService struct {
	repo     attachmentStore
	forms    requestFormReader
	blobs    BlobStorage
	signer   *storage.SignedURLSigner
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
	maxBytes int64
	basePath string
	now      func() time.Time
}

// RequestAttachmentOption configures the attachment service.
type RequestAttachmentOption func(*RequestAttachmentService)

// WithAttachmentMaxBytes caps the accepted file size.
func WithAttachmentMaxBytes(n int64) RequestAttachmentOption {
	return func(s *RequestAttachmentService) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithAttachmentSigner enables signed download links served under basePath.
func WithAttachmentSigner(signer *storage.SignedURLSigner, basePath string) RequestAttachmentOption {
	return func(s *RequestAttachmentService) {
		s.signer = signer
		if basePath != "" {
			s.basePath = strings.TrimRight(basePath, "/")
		}
	}
}

// WithAttachmentMetrics records upload sizes.
func WithAttachmentMetrics(m *MetricsService) RequestAttachmentOption {
	return func(s *RequestAttachmentService) {
		s.metrics = m
	}
}

// NewRequestAttachmentService constructs the service.
func NewRequestAttachmentService(repo attachmentStore, forms requestFormReader, blobs BlobStorage, audit auditLogger, logger *zap.Logger, opts ...RequestAttachmentOption) *RequestAttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RequestAttachmentService{
		repo:     repo,
		forms:    forms,
		blobs:    blobs,
		audit:    audit,
		logger:   logger,
		maxBytes: defaultMaxAttachmentBytes,
		basePath: "/api/v1/files",
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func (s *RequestAttachmentService) loadForm(ctx context.Context, formID int64, actor models.Actor) (*models.RequestForm, error) {
	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := authorizeOwner(actor, form); err != nil {
		return nil, err
	}
	return form, nil
}

// Attach validates and stores a document, then records its metadata.
// Content is sniffed before anything is written; a failed metadata insert removes the blob.
func (s *RequestAttachmentService) Attach(ctx context.Context, formID int64, upload AttachmentUpload, actor models.Actor) (*models.Attachment, error) {
	form, err := s.loadForm(ctx, formID, actor)
	if err != nil {
		return nil, err
	}
	if form.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrAttachmentsLocked, "")
	}

	problems := map[string]string{}
	if !upload.AttachmentType.Valid() {
		problems["attachment_type"] = "unknown attachment type"
	}
	if upload.Content == nil || upload.Size <= 0 {
		problems["file"] = "is required"
	} else if upload.Size > s.maxBytes {
		problems["file"] = fmt.Sprintf("exceeds the maximum size of %d MB", s.maxBytes>>20)
	}
	if len(problems) > 0 {
		return nil, appErrors.WithFields(appErrors.ErrValidation, problems)
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	if !mimetype.EqualsAny(detected.String(), allowedAttachmentTypes...) {
		s.logger.Info("attachment refused", zap.Int64("request_id", formID), zap.String("detected", detected.String()))
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFileType, "")
	}
	contentType := detected.String()
	if i := strings.IndexByte(contentType, ';'); i > 0 {
		contentType = contentType[:i]
	}
	if !extensionMatches(upload.FileName, contentType) {
		s.logger.Info("attachment name does not match content",
			zap.Int64("request_id", formID),
			zap.String("file_name", upload.FileName),
			zap.String("detected", contentType),
		)
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFileType, "file extension does not match its content")
	}

	key := fmt.Sprintf("requests/%d/%s%s", formID, uuid.NewString(), detected.Extension())
	body := io.MultiReader(bytes.NewReader(head), upload.Content)
	if err := s.blobs.Put(ctx, key, body, upload.Size, contentType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	attachment := &models.Attachment{
		RequestFormID:  formID,
		AttachmentType: upload.AttachmentType,
		FileName:       cleanFileName(upload.FileName, detected.Extension()),
		StorageKey:     key,
		ContentType:    contentType,
		SizeBytes:      upload.Size,
		Description:    upload.Description,
		UploadedBy:     actor.UserID,
	}
	if err := s.repo.Create(ctx, attachment); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Error("failed to remove orphaned attachment", zap.String("key", key), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save attachment")
	}

	s.metrics.ObserveAttachment(contentType, upload.Size)
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionAttachmentAdd, formID, nil,
		map[string]interface{}{"attachment_id": attachment.ID, "attachment_type": attachment.AttachmentType, "file_name": attachment.FileName})
	return attachment, nil
}

func cleanFileName(name, ext string) string {
	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "attachment" + ext
	}
	if filepath.Ext(name) == "" {
		name += ext
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}

func (s *RequestAttachmentService) getAttachment(ctx context.Context, formID, attachmentID int64) (*models.Attachment, error) {
	attachment, err := s.repo.Get(ctx, formID, attachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	return attachment, nil
}

// Detach removes an attachment and its stored content.
func (s *RequestAttachmentService) Detach(ctx context.Context, formID, attachmentID int64, actor models.Actor) error {
	form, err := s.loadForm(ctx, formID, actor)
	if err != nil {
		return err
	}
	if form.Status.IsTerminal() {
		return appErrors.Clone(appErrors.ErrAttachmentsLocked, "")
	}
	attachment, err := s.getAttachment(ctx, formID, attachmentID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, formID, attachmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attachment")
	}
	if err := s.blobs.Delete(ctx, attachment.StorageKey); err != nil {
		s.logger.Warn("failed to delete attachment content", zap.String("key", attachment.StorageKey), zap.Error(err))
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionAttachmentRemove, formID,
		map[string]interface{}{"attachment_id": attachment.ID, "attachment_type": attachment.AttachmentType}, nil)
	return nil
}

// Verify marks an attachment as checked by staff.
func (s *RequestAttachmentService) Verify(ctx context.Context, formID, attachmentID int64, actor models.Actor) (*models.Attachment, error) {
	if !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can verify attachments")
	}
	attachment, err := s.repo.MarkVerified(ctx, formID, attachmentID, actor.UserID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify attachment")
	}
	writeAudit(ctx, s.audit, s.logger, actor.UserID, models.AuditActionAttachmentVerify, formID, nil,
		map[string]interface{}{"attachment_id": attachment.ID})
	return attachment, nil
}

// List returns the attachments of a request.
func (s *RequestAttachmentService) List(ctx context.Context, formID int64, actor models.Actor) ([]models.Attachment, error) {
	if _, err := s.loadForm(ctx, formID, actor); err != nil {
		return nil, err
	}
	attachments, err := s.repo.ListByForm(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attachments")
	}
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	return attachments, nil
}

// DownloadURL issues a signed link for one attachment.
func (s *RequestAttachmentService) DownloadURL(ctx context.Context, formID, attachmentID int64, actor models.Actor) (*DownloadLink, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "downloads are not configured")
	}
	if _, err := s.loadForm(ctx, formID, actor); err != nil {
		return nil, err
	}
	attachment, err := s.getAttachment(ctx, formID, attachmentID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(attachment.ID, attachment.StorageKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &DownloadLink{URL: s.basePath + "/" + token, ExpiresAt: expiresAt}, nil
}

// Open resolves a signed token to the attachment and its content. The caller closes the reader.
func (s *RequestAttachmentService) Open(ctx context.Context, token string) (*models.Attachment, io.ReadCloser, error) {
	if s.signer == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	attachment, err := s.repo.GetByID(ctx, claims.AttachmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachment")
	}
	if attachment.StorageKey != claims.Key {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	rc, err := s.blobs.Open(ctx, claims.Key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return attachment, rc, nil
}

// RemoveAll deletes the stored content of the given attachments. Failures are logged.
func (s *RequestAttachmentService) RemoveAll(ctx context.Context, attachments []models.Attachment) {
	for _, a := range attachments {
		if err := s.blobs.Delete(ctx, a.StorageKey); err != nil {
			s.logger.Warn("failed to delete attachment content", zap.String("key", a.StorageKey), zap.Error(err))
		}
	}
}
