package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/lms-enrollment-api/pkg/errors"
	"github.com/noah-isme/lms-enrollment-api/pkg/export"
)

type progressReader interface {
	Progress(ctx context.Context, studentID, courseID string) (*models.Enrollment, *models.Course, error)
}

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportFile is a rendered progress report.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders a student's module progress as CSV or PDF.
type ExportService struct {
	progress progressReader
	csv      documentRenderer
	pdf      documentRenderer
	logger   *zap.Logger
	now      func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers use the pkg/export defaults.
func NewExportService(progress progressReader, logger *zap.Logger, csv, pdf documentRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{progress: progress, csv: csv, pdf: pdf, logger: logger, now: time.Now}
}

// ExportProgress renders the caller's progress for courseID in the requested format.
func (s *ExportService) ExportProgress(ctx context.Context, studentID, courseID, rawFormat string) (*ExportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	enrollment, course, err := s.progress.Progress(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}

	doc := buildProgressDocument(*enrollment, *course, s.now().UTC())
	renderer := s.csv
	if format == export.FormatPDF {
		renderer = s.pdf
	}
	data, err := renderer.Render(doc)
	if err != nil {
		s.logger.Error("progress export failed", zap.String("course_id", courseID), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render progress export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("progress_%s_%s.%s", sanitizeFilename(course.Title), s.now().UTC().Format("20060102"), format),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func buildProgressDocument(enrollment models.Enrollment, course models.Course, generatedAt time.Time) export.Document {
	status := "In progress"
	if enrollment.Completed {
		status = "Completed"
	}
	doc := export.Document{
		Title: course.Title + " - Progress",
		Summary: []string{
			fmt.Sprintf("Completion: %d%% (%s)", enrollment.CompletionPercentage, status),
			fmt.Sprintf("Modules completed: %d of %d", models.CompletedModuleCount(enrollment.Progress, course.ModuleIDs), len(course.ModuleIDs)),
			"Generated: " + generatedAt.Format(time.RFC3339),
		},
		Data: export.Dataset{Headers: []string{"#", "Module", "Status", "Completed At", "Watch Time (s)"}},
	}
	for i, moduleID := range course.ModuleIDs {
		row := map[string]string{
			"#":              strconv.Itoa(i + 1),
			"Module":         moduleID,
			"Status":         "Not started",
			"Completed At":   "",
			"Watch Time (s)": "0",
		}
		if p, ok := models.FindModuleProgress(enrollment.Progress, moduleID); ok {
			row["Watch Time (s)"] = strconv.FormatInt(p.WatchTime, 10)
			switch {
			case p.Completed:
				row["Status"] = "Completed"
			case p.WatchTime > 0:
				row["Status"] = "Started"
			}
			if p.CompletedAt != nil {
				row["Completed At"] = p.CompletedAt.UTC().Format(time.RFC3339)
			}
		}
		doc.Data.Rows = append(doc.Data.Rows, row)
	}
	return doc
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "course"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 60 {
		return result[:60]
	}
	return result
}
