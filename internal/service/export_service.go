package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
	"github.com/noah-isme/sis-request-api/pkg/export"
)

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

const (
	exportPageSize   = 100
	defaultExportCap = 5000
)

var exportHeaders = []string{"Request Number", "Type", "Student ID", "Status", "Current Step", "Submitted At", "Decided At", "Days Pending"}

type requestLister interface {
	List(ctx context.Context, filter models.RequestFormFilter) ([]models.RequestForm, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered export ready to stream.
type ExportFile struct {
	FileName    string
	ContentType string
	Content     []byte
	Rows        int
	Truncated   bool
}

// RequestExportService renders filtered request listings for staff.
type RequestExportService struct {
	repo    requestLister
	csv     csvRenderer
	pdf     pdfRenderer
	logger  *zap.Logger
	maxRows int
	now     func() time.Time
}

// NewRequestExportService wires the exporter. maxRows <= 0 uses the default cap.
func NewRequestExportService(repo requestLister, csv csvRenderer, pdf pdfRenderer, maxRows int, logger *zap.Logger) *RequestExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = defaultExportCap
	}
	return &RequestExportService{repo: repo, csv: csv, pdf: pdf, logger: logger, maxRows: maxRows, now: time.Now}
}

// Export walks every page matching the filter and renders it in the requested format.
func (s *RequestExportService) Export(ctx context.Context, filter models.RequestFormFilter, format string, actor models.Actor) (*ExportFile, error) {
	if !actor.Role.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff can export requests")
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.WithFields(appErrors.ErrValidation, map[string]string{"format": "must be csv or pdf"})
	}
	filter.RequestType = strings.ToUpper(strings.TrimSpace(filter.RequestType))
	filter.PageSize = exportPageSize

	var rows []models.RequestForm
	truncated := false
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests for export")
		}
		rows = append(rows, items...)
		if len(rows) >= s.maxRows {
			truncated = total > s.maxRows
			rows = rows[:s.maxRows]
			break
		}
		if len(items) < exportPageSize || len(rows) >= total {
			break
		}
	}

	now := s.now().UTC()
	dataset := buildRequestDataset(rows, now)
	file := &ExportFile{Rows: len(rows), Truncated: truncated}
	var err error
	switch format {
	case ExportFormatPDF:
		file.Content, err = s.pdf.Render(dataset, "Student Requests "+now.Format("2006-01-02"))
		file.ContentType = "application/pdf"
	default:
		file.Content, err = s.csv.Render(dataset)
		file.ContentType = "text/csv; charset=utf-8"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	file.FileName = exportFileName(filter.RequestType, now, format)

	s.logger.Info("request export generated",
		zap.String("format", format),
		zap.Int("rows", file.Rows),
		zap.Bool("truncated", truncated),
		zap.String("actor", actor.UserID),
	)
	return file, nil
}

func buildRequestDataset(rows []models.RequestForm, now time.Time) export.Dataset {
	data := export.Dataset{Headers: exportHeaders, Rows: make([]map[string]string, 0, len(rows))}
	for _, form := range rows {
		number := ""
		if form.RequestNumber != nil {
			number = *form.RequestNumber
		}
		days := form.DaysPending
		if form.SubmittedAt != nil && form.Status.IsPendingApproval() {
			days = int(now.Sub(*form.SubmittedAt).Hours() / 24)
		}
		data.Rows = append(data.Rows, map[string]string{
			"Request Number": number,
			"Type":           form.RequestType,
			"Student ID":     strconv.FormatInt(form.StudentID, 10),
			"Status":         string(form.Status),
			"Current Step":   strconv.Itoa(form.CurrentStep),
			"Submitted At":   formatExportTime(form.SubmittedAt),
			"Decided At":     formatExportTime(form.DecidedAt),
			"Days Pending":   strconv.Itoa(days),
		})
	}
	return data
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func exportFileName(requestType string, now time.Time, format string) string {
	base := "requests"
	if requestType != "" {
		base = base + "_" + sanitizeFilename(strings.ToLower(requestType))
	}
	return fmt.Sprintf("%s_%s.%s", base, now.Format("20060102_150405"), format)
}

func sanitizeFilename(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
