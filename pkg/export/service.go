package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"datapivots/pkg/domain"
	"datapivots/pkg/queue"
	"datapivots/pkg/storage"
)

var (
	ErrInvalidFormat = errors.New("format must be pdf, doc or ppt")
	ErrNotReady      = errors.New("export is not ready")
)

// Queue is satisfied by queue.RedisJobQueue and queue.MemoryJobQueue.
type Queue interface {
	Enqueue(ctx context.Context, reportID, format string) (queue.JobStatus, error)
	GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error)
	Run(ctx context.Context, concurrency int, handler queue.Handler) error
}

// Reports looks up the report to render.
type Reports interface {
	Get(id string) (domain.ProcessedReport, error)
}

type Service struct {
	queue       Queue
	objects     storage.ObjectStore
	reports     Reports
	concurrency int
}

func NewService(q Queue, objects storage.ObjectStore, reports Reports, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{queue: q, objects: objects, reports: reports, concurrency: concurrency}
}

// Enqueue schedules an export of an existing report.
func (s *Service) Enqueue(ctx context.Context, reportID string, format Format) (queue.JobStatus, error) {
	if _, ok := ParseFormat(string(format)); !ok {
		return queue.JobStatus{}, ErrInvalidFormat
	}
	if _, err := s.reports.Get(reportID); err != nil {
		return queue.JobStatus{}, err
	}
	job, err := s.queue.Enqueue(ctx, reportID, string(format))
	if err != nil {
		return queue.JobStatus{}, fmt.Errorf("enqueue export: %w", err)
	}
	return job, nil
}

func (s *Service) Job(ctx context.Context, jobID string) (queue.JobStatus, error) {
	job, ok, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return queue.JobStatus{}, fmt.Errorf("get export job: %w", err)
	}
	if !ok {
		return queue.JobStatus{}, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	return job, nil
}

// Download opens the rendered stub of a finished job.
func (s *Service) Download(ctx context.Context, jobID string) (storage.Object, queue.JobStatus, error) {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return storage.Object{}, queue.JobStatus{}, err
	}
	if job.Status != queue.StatusDone || job.ArtifactKey == "" {
		return storage.Object{}, job, fmt.Errorf("%w: job %s is %s", ErrNotReady, jobID, job.Status)
	}
	obj, err := s.objects.Get(ctx, job.ArtifactKey)
	if err != nil {
		return storage.Object{}, job, err
	}
	return obj, job, nil
}

// Run processes export jobs until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	return s.queue.Run(ctx, s.concurrency, s.handle)
}

func (s *Service) handle(ctx context.Context, job queue.JobStatus) (string, error) {
	format, ok := ParseFormat(job.Format)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, job.Format)
	}
	report, err := s.reports.Get(job.ReportID)
	if err != nil {
		return "", err
	}
	body := Render(report, format)
	key := ArtifactKey(job.ID, report.Title, format)
	if err := s.objects.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	slog.Info("export rendered", "job_id", job.ID, "report_id", report.ID, "format", format, "key", key)
	return key, nil
}
