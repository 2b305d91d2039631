package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MemoryJobQueue runs jobs in-process. Jobs queued before Run starts wait in
// the buffer; jobs are lost on restart.
type MemoryJobQueue struct {
	maxRetries int
	retryDelay time.Duration
	pending    chan string

	mu   sync.Mutex
	jobs map[string]JobStatus
}

func NewMemoryJobQueue(buffer, maxRetries int, retryDelay time.Duration) *MemoryJobQueue {
	if buffer <= 0 {
		buffer = 128
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MemoryJobQueue{
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		pending:    make(chan string, buffer),
		jobs:       make(map[string]JobStatus),
	}
}

func (q *MemoryJobQueue) Enqueue(ctx context.Context, reportID, format string) (JobStatus, error) {
	job, err := newJob(reportID, format)
	if err != nil {
		return JobStatus{}, err
	}
	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()
	select {
	case q.pending <- job.ID:
		return job, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		return JobStatus{}, ctx.Err()
	}
}

func (q *MemoryJobQueue) GetJob(_ context.Context, jobID string) (JobStatus, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

// Run processes jobs with concurrency workers until ctx ends.
func (q *MemoryJobQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-q.pending:
					q.process(gctx, id, handler)
				}
			}
		})
	}
	return g.Wait()
}

func (q *MemoryJobQueue) process(ctx context.Context, jobID string, handler Handler) {
	for {
		job := q.update(jobID, func(j *JobStatus) {
			j.Attempts++
			j.Status = StatusProcessing
		})
		artifact, err := handler(ctx, job)
		if err != nil {
			slog.Warn("export job attempt failed", "job_id", jobID, "report_id", job.ReportID, "attempt", job.Attempts, "err", err)
		}
		var retry bool
		q.update(jobID, func(j *JobStatus) {
			retry = j.settle(artifact, err, q.maxRetries)
		})
		if !retry || !sleepCtx(ctx, q.retryDelay) {
			return
		}
	}
}

func (q *MemoryJobQueue) update(jobID string, fn func(*JobStatus)) JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.jobs[jobID]
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	return job
}
