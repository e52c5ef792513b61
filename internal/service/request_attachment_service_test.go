package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/storage"
)

type memoryAttachmentRepo struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]models.Attachment
	createErr error
}

func newMemoryAttachmentRepo() *memoryAttachmentRepo {
	return &memoryAttachmentRepo{items: map[int64]models.Attachment{}}
}

func (m *memoryAttachmentRepo) Create(ctx context.Context, a *models.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now().UTC()
	m.items[a.ID] = *a
	return nil
}

func (m *memoryAttachmentRepo) Get(ctx context.Context, formID, id int64) (*models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.RequestFormID != formID {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (m *memoryAttachmentRepo) GetByID(ctx context.Context, id int64) (*models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &a, nil
}

func (m *memoryAttachmentRepo) ListByForm(ctx context.Context, formID int64) ([]models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Attachment
	for id := int64(1); id <= m.nextID; id++ {
		if a, ok := m.items[id]; ok && a.RequestFormID == formID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryAttachmentRepo) Delete(ctx context.Context, formID, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.RequestFormID != formID {
		return sql.ErrNoRows
	}
	delete(m.items, id)
	return nil
}

func (m *memoryAttachmentRepo) MarkVerified(ctx context.Context, formID, id int64, verifiedBy string, at time.Time) (*models.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.RequestFormID != formID {
		return nil, sql.ErrNoRows
	}
	a.Verified = true
	a.VerifiedBy = &verifiedBy
	a.VerifiedAt = &at
	m.items[id] = a
	return &a, nil
}

type staticForms map[int64]models.RequestForm

func (s staticForms) GetByID(ctx context.Context, id int64) (*models.RequestForm, error) {
	form, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &form, nil
}

var pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type attachmentFixture struct {
	svc   *RequestAttachmentService
	repo  *memoryAttachmentRepo
	blobs *storage.LocalStorage
	audit *memoryAuditLog
}

func newAttachmentFixture(t *testing.T, forms staticForms) *attachmentFixture {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &attachmentFixture{repo: newMemoryAttachmentRepo(), blobs: blobs, audit: &memoryAuditLog{}}
	f.svc = NewRequestAttachmentService(f.repo, forms, blobs, f.audit, nil,
		WithAttachmentMaxBytes(1<<20),
		WithAttachmentSigner(storage.NewSignedURLSigner("download-secret", time.Minute), "/api/v1/files"),
		WithAttachmentMetrics(NewMetricsService()),
	)
	return f
}

func draftForms() staticForms {
	return staticForms{1: examRetakeDraft(1)}
}

func pdfUpload() AttachmentUpload {
	return AttachmentUpload{
		AttachmentType: models.AttachmentMedicalReport,
		FileName:       `C:\Users\student\report.pdf`,
		Size:           int64(len(pdfContent)),
		Content:        bytes.NewReader(pdfContent),
	}
}

func TestAttachStoresSniffedDocument(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	ctx := context.Background()

	a, err := f.svc.Attach(ctx, 1, pdfUpload(), studentActor())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", a.ContentType)
	assert.Equal(t, "report.pdf", a.FileName)
	assert.True(t, strings.HasPrefix(a.StorageKey, "requests/1/"))
	assert.True(t, strings.HasSuffix(a.StorageKey, ".pdf"))

	exists, err := f.blobs.Exists(ctx, a.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := f.blobs.Open(ctx, a.StorageKey)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, pdfContent, stored)
	assert.Equal(t, 1, f.audit.count())
}

func TestAttachRejectsUnsupportedContentBeforeWriting(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	upload := pdfUpload()
	upload.FileName = "report.pdf"
	upload.Content = strings.NewReader("just some plain text pretending to be a pdf")
	upload.Size = int64(len("just some plain text pretending to be a pdf"))

	_, err := f.svc.Attach(context.Background(), 1, upload, studentActor())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnsupportedFileType.Code, appErr.Code)
	assert.Equal(t, 415, appErr.Status)

	list, err := f.repo.ListByForm(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

var jpegContent = []byte{
	0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01,
	0x01, 0x01, 0x00, 0x48, 0x00, 0x48, 0x00, 0x00, 0xFF, 0xD9,
}

func TestAttachRejectsJPEGNamedAsPDF(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	upload := pdfUpload()
	upload.Content = bytes.NewReader(jpegContent)
	upload.Size = int64(len(jpegContent))

	_, err := f.svc.Attach(context.Background(), 1, upload, studentActor())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnsupportedFileType.Code, appErr.Code)
	assert.Equal(t, 415, appErr.Status)

	list, err := f.repo.ListByForm(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)

	entries, err := os.ReadDir(f.blobs.Path("requests/1"))
	if err == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestAttachAcceptsMatchingExtensions(t *testing.T) {
	cases := map[string]string{
		"scan.JPG":  "scan.JPG",
		"scan.jpeg": "scan.jpeg",
		"scan":      "scan.jpg",
	}
	for name, want := range cases {
		t.Run(name, func(t *testing.T) {
			f := newAttachmentFixture(t, draftForms())
			upload := pdfUpload()
			upload.FileName = name
			upload.Content = bytes.NewReader(jpegContent)
			upload.Size = int64(len(jpegContent))

			a, err := f.svc.Attach(context.Background(), 1, upload, studentActor())
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", a.ContentType)
			assert.Equal(t, want, a.FileName)
		})
	}
}

func TestAttachValidatesSizeAndType(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	upload := pdfUpload()
	upload.AttachmentType = "SELFIE"
	upload.Size = 2 << 20

	_, err := f.svc.Attach(context.Background(), 1, upload, studentActor())
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Equal(t, "unknown attachment type", appErr.Fields["attachment_type"])
	assert.Contains(t, appErr.Fields["file"], "maximum size")

	upload = pdfUpload()
	upload.Size = 0
	_, err = f.svc.Attach(context.Background(), 1, upload, studentActor())
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAttachLockedOnTerminalRequest(t *testing.T) {
	closed := examRetakeDraft(1)
	closed.Status = models.RequestStatusRejected
	f := newAttachmentFixture(t, staticForms{1: closed})

	_, err := f.svc.Attach(context.Background(), 1, pdfUpload(), studentActor())
	require.ErrorIs(t, err, appErrors.ErrAttachmentsLocked)
}

func TestAttachRemovesBlobWhenMetadataFails(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	f.repo.createErr = errors.New("insert failed")

	_, err := f.svc.Attach(context.Background(), 1, pdfUpload(), studentActor())
	require.ErrorIs(t, err, appErrors.ErrInternal)

	entries, err := os.ReadDir(f.blobs.Path("requests/1"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAttachForbiddenForOtherStudent(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	other := int64(7)
	_, err := f.svc.Attach(context.Background(), 1, pdfUpload(), models.Actor{UserID: "u-7", Role: models.RoleStudent, StudentID: &other})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Attach(context.Background(), 99, pdfUpload(), studentActor())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDetachRemovesContent(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	ctx := context.Background()
	a, err := f.svc.Attach(ctx, 1, pdfUpload(), studentActor())
	require.NoError(t, err)

	require.NoError(t, f.svc.Detach(ctx, 1, a.ID, studentActor()))
	exists, err := f.blobs.Exists(ctx, a.StorageKey)
	require.NoError(t, err)
	assert.False(t, exists)

	err = f.svc.Detach(ctx, 1, a.ID, studentActor())
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestVerifyIsStaffOnly(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	ctx := context.Background()
	a, err := f.svc.Attach(ctx, 1, pdfUpload(), studentActor())
	require.NoError(t, err)

	_, err = f.svc.Verify(ctx, 1, a.ID, studentActor())
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	verified, err := f.svc.Verify(ctx, 1, a.ID, models.Actor{UserID: "staff-1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	assert.Equal(t, "staff-1", *verified.VerifiedBy)
}

func TestDownloadLinkRoundTrip(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	ctx := context.Background()
	a, err := f.svc.Attach(ctx, 1, pdfUpload(), studentActor())
	require.NoError(t, err)

	link, err := f.svc.DownloadURL(ctx, 1, a.ID, studentActor())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link.URL, "/api/v1/files/"))
	assert.True(t, link.ExpiresAt.After(time.Now()))

	token := strings.TrimPrefix(link.URL, "/api/v1/files/")
	meta, rc, err := f.svc.Open(ctx, token)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pdfContent, body)
	assert.Equal(t, "report.pdf", meta.FileName)

	_, _, err = f.svc.Open(ctx, token+"x")
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestListAttachmentsNeverNil(t *testing.T) {
	f := newAttachmentFixture(t, draftForms())
	list, err := f.svc.List(context.Background(), 1, studentActor())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}
