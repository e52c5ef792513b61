package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/export"
)

type pagedListerStub struct {
	forms   []models.RequestForm
	filters []models.RequestFormFilter
	err     error
}

func (s *pagedListerStub) List(ctx context.Context, filter models.RequestFormFilter) ([]models.RequestForm, int, error) {
	s.filters = append(s.filters, filter)
	if s.err != nil {
		return nil, 0, s.err
	}
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(s.forms) {
		return []models.RequestForm{}, len(s.forms), nil
	}
	end := start + filter.PageSize
	if end > len(s.forms) {
		end = len(s.forms)
	}
	return s.forms[start:end], len(s.forms), nil
}

func exportForms(n int, submitted time.Time) []models.RequestForm {
	forms := make([]models.RequestForm, 0, n)
	for i := 1; i <= n; i++ {
		number := fmt.Sprintf("GR-2026-%05d", i)
		at := submitted
		forms = append(forms, models.RequestForm{
			ID:            int64(i),
			StudentID:     1000 + int64(i),
			RequestNumber: &number,
			RequestType:   "GRADE_REVIEW",
			Status:        models.RequestStatusPendingDept,
			CurrentStep:   1,
			SubmittedAt:   &at,
		})
	}
	return forms
}

func newExportService(repo requestLister, maxRows int) *RequestExportService {
	svc := NewRequestExportService(repo, export.NewCSVExporter(), export.NewPDFExporter(), maxRows, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC) }
	return svc
}

func TestRequestExportCSVPagesThroughResults(t *testing.T) {
	submitted := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	repo := &pagedListerStub{forms: exportForms(230, submitted)}
	svc := newExportService(repo, 0)

	file, err := svc.Export(context.Background(), models.RequestFormFilter{RequestType: " grade_review "}, "", models.Actor{UserID: "staff-1", Role: models.RoleStaff})
	require.NoError(t, err)

	assert.Len(t, repo.filters, 3)
	for i, f := range repo.filters {
		assert.Equal(t, i+1, f.Page)
		assert.Equal(t, exportPageSize, f.PageSize)
		assert.Equal(t, "GRADE_REVIEW", f.RequestType)
	}
	assert.Equal(t, 230, file.Rows)
	assert.False(t, file.Truncated)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)
	assert.Equal(t, "requests_grade_review_20260314_080000.csv", file.FileName)

	require.True(t, bytes.HasPrefix(file.Content, []byte{0xEF, 0xBB, 0xBF}))
	lines := strings.Split(strings.TrimSpace(string(file.Content[3:])), "\n")
	assert.Len(t, lines, 231)
	assert.Equal(t, "Request Number,Type,Student ID,Status,Current Step,Submitted At,Decided At,Days Pending", lines[0])
	assert.Equal(t, "GR-2026-00001,GRADE_REVIEW,1001,PENDING_DEPT,1,2026-03-10 08:00,,4", lines[1])
}

func TestRequestExportCapsRows(t *testing.T) {
	repo := &pagedListerStub{forms: exportForms(250, time.Now())}
	svc := newExportService(repo, 120)

	file, err := svc.Export(context.Background(), models.RequestFormFilter{}, "csv", models.Actor{UserID: "admin", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 120, file.Rows)
	assert.True(t, file.Truncated)
	assert.Len(t, repo.filters, 2)
	assert.Equal(t, "requests_20260314_080000.csv", file.FileName)
}

func TestRequestExportPDF(t *testing.T) {
	repo := &pagedListerStub{forms: exportForms(3, time.Now())}
	svc := newExportService(repo, 0)

	file, err := svc.Export(context.Background(), models.RequestFormFilter{}, "PDF", models.Actor{UserID: "staff-1", Role: models.RoleStaff})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.True(t, strings.HasSuffix(file.FileName, ".pdf"))
	assert.True(t, bytes.HasPrefix(file.Content, []byte("%PDF")))
}

func TestRequestExportRejectsStudentsAndBadFormat(t *testing.T) {
	repo := &pagedListerStub{}
	svc := newExportService(repo, 0)
	studentID := int64(7)

	_, err := svc.Export(context.Background(), models.RequestFormFilter{}, "csv", models.Actor{UserID: "s-7", Role: models.RoleStudent, StudentID: &studentID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Export(context.Background(), models.RequestFormFilter{}, "xlsx", models.Actor{UserID: "staff-1", Role: models.RoleStaff})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Fields, "format")
	assert.Empty(t, repo.filters)
}

func TestRequestExportRepositoryFailure(t *testing.T) {
	svc := newExportService(&pagedListerStub{err: errors.New("db down")}, 0)
	_, err := svc.Export(context.Background(), models.RequestFormFilter{}, "csv", models.Actor{UserID: "staff-1", Role: models.RoleStaff})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}
