package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"datapivots/pkg/chat"
	"datapivots/pkg/domain"
	"datapivots/pkg/mockdata"
	"datapivots/pkg/reports"
	"datapivots/pkg/storage"
)

// analyzer turns an accepted upload into a report. The report is created
// as processing when the upload is accepted and receives its mock widgets
// when the chat sequence completes.
type analyzer struct {
	reports *reports.Manager
	objects storage.ObjectStore
	now     func() time.Time
	logger  *slog.Logger
}

func (a *analyzer) Begin(ctx context.Context, reportType domain.ReportType, file chat.File, content []byte) (string, error) {
	id := "report-" + uuid.NewString()
	key := UploadKey(id, file.Name)
	if err := a.objects.Put(ctx, key, bytes.NewReader(content), int64(len(content)), file.Type); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}

	original := &domain.OriginalFile{
		Name: file.Name,
		URL:  "/api/reports/" + id + "/file",
		Type: file.Type,
		Size: int64(len(content)),
	}
	if file.Type == "application/pdf" {
		pages, err := pdfPageCount(content)
		if err != nil {
			a.logger.Warn("pdf page count failed", "report_id", id, "file", file.Name, "err", err)
		}
		original.Pages = pages
	}

	now := domain.Timestamp(a.now())
	report := domain.ProcessedReport{
		ID:            id,
		Title:         reportTitle(reportType, file.Name),
		ReportType:    reportType,
		Status:        domain.ReportProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExtractedData: []byte(`{}`),
		OriginalFile:  original,
		Widgets:       []domain.Widget{},
	}
	if err := a.reports.AddReport(ctx, report); err != nil {
		_ = a.objects.Delete(context.WithoutCancel(ctx), key)
		return "", err
	}
	a.logger.Info("analysis started", "report_id", id, "report_type", reportType, "file", file.Name, "pages", original.Pages)
	return id, nil
}

func (a *analyzer) Complete(ctx context.Context, reportID string) error {
	_, err := a.reports.UpdateReport(ctx, reportID, func(r *domain.ProcessedReport) error {
		r.Status = domain.ReportCompleted
		r.ExtractedData = mockdata.ExtractedData(r.ReportType)
		r.Widgets = mockdata.Widgets(r.ReportType)
		return nil
	})
	if err == nil {
		a.logger.Info("analysis completed", "report_id", reportID)
	}
	return err
}

func (a *analyzer) Abort(ctx context.Context, reportID string) error {
	_, err := a.reports.UpdateReport(ctx, reportID, func(r *domain.ProcessedReport) error {
		if r.Status == domain.ReportProcessing {
			r.Status = domain.ReportFailed
		}
		return nil
	})
	if err == nil {
		a.logger.Info("analysis aborted", "report_id", reportID)
	}
	return err
}

// UploadKey is the object key of a report's original document.
func UploadKey(reportID, filename string) string {
	return "uploads/" + reportID + "/" + path.Base(strings.ReplaceAll(filename, "\\", "/"))
}

func reportTitle(t domain.ReportType, filename string) string {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	base = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
	if base == "" {
		return mockdata.ReportTypeLabel(t)
	}
	return mockdata.ReportTypeLabel(t) + " - " + base
}

// pdfPageCount parses the document; malformed input yields 0 pages and an
// error. The parser may panic on truncated files.
func pdfPageCount(content []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
