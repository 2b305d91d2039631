// Package queue runs export jobs on a Redis stream consumer group, with an
// in-process fallback for single-node setups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// JobStatus tracks one export request.
type JobStatus struct {
	ID           string    `json:"id"`
	ReportID     string    `json:"reportId"`
	Format       string    `json:"format"`
	ArtifactKey  string    `json:"artifactKey,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes a job and returns the key of the produced artifact.
type Handler func(ctx context.Context, job JobStatus) (string, error)

// jobRef is what travels on the stream; the full status lives in a hash.
type jobRef struct {
	JobID    string
	ReportID string
	Format   string
}

func (r jobRef) values() map[string]any {
	return map[string]any{
		"job_id":    r.JobID,
		"report_id": r.ReportID,
		"format":    r.Format,
	}
}

func refFromValues(values map[string]any) (jobRef, bool) {
	var r jobRef
	r.JobID, _ = values["job_id"].(string)
	r.ReportID, _ = values["report_id"].(string)
	r.Format, _ = values["format"].(string)
	return r, r.JobID != "" && r.ReportID != ""
}

func newJob(reportID, format string) (JobStatus, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return JobStatus{}, errors.New("reportId required")
	}
	format = strings.TrimSpace(format)
	if format == "" {
		return JobStatus{}, errors.New("format required")
	}
	now := time.Now().UTC()
	return JobStatus{
		ID:        uuid.NewString(),
		ReportID:  reportID,
		Format:    format,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (j JobStatus) ref() jobRef {
	return jobRef{JobID: j.ID, ReportID: j.ReportID, Format: j.Format}
}

// hash flattens the status for HSET.
func (j JobStatus) hash() map[string]any {
	return map[string]any{
		"id":          j.ID,
		"reportId":    j.ReportID,
		"format":      j.Format,
		"artifactKey": j.ArtifactKey,
		"status":      j.Status,
		"error":       j.ErrorMessage,
		"attempts":    strconv.Itoa(j.Attempts),
		"createdAt":   j.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func jobFromHash(jobID string, data map[string]string) (JobStatus, error) {
	job := JobStatus{
		ID:           jobID,
		ReportID:     data["reportId"],
		Format:       data["format"],
		ArtifactKey:  data["artifactKey"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return JobStatus{}, fmt.Errorf("decode job %s attempts: %w", jobID, err)
		}
		job.Attempts = n
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, data["createdAt"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, data["updatedAt"])
	return job, nil
}

// settle applies the outcome of one handler attempt. retry reports whether
// the job goes back to the queue.
func (j *JobStatus) settle(artifact string, err error, maxRetries int) (retry bool) {
	switch {
	case err == nil:
		j.Status = StatusDone
		j.ArtifactKey = artifact
		j.ErrorMessage = ""
	case j.Attempts >= maxRetries:
		j.Status = StatusFailed
		j.ErrorMessage = err.Error()
	default:
		j.Status = StatusQueued
		j.ErrorMessage = err.Error()
		retry = true
	}
	return retry
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
