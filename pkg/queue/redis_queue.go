package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// DefaultStream is the export stream used when none is configured.
const DefaultStream = "datapivots:exports"

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func (c RedisQueueConfig) withDefaults() (RedisQueueConfig, error) {
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		return c, errors.New("redis addr required")
	}
	if c.Stream = strings.TrimSpace(c.Stream); c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Group = strings.TrimSpace(c.Group); c.Group == "" {
		c.Group = "exporters"
	}
	if c.Consumer = strings.TrimSpace(c.Consumer); c.Consumer == "" {
		c.Consumer = "exporter-" + uuid.NewString()[:8]
	}
	setDuration(&c.JobTTL, 24*time.Hour)
	setDuration(&c.Block, 5*time.Second)
	setDuration(&c.ClaimIdle, 30*time.Second)
	setDuration(&c.RetryDelay, 2*time.Second)
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 10000
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 10
	}
	if c.ClaimCount <= 0 {
		c.ClaimCount = 10
	}
	return c, nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

// RedisJobQueue keeps job ids on a stream and each job's status in a hash
// that expires after JobTTL.
type RedisJobQueue struct {
	client *redis.Client
	cfg    RedisQueueConfig
	setup  sync.Once
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &RedisJobQueue{
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password}),
		cfg:    cfg,
	}, nil
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, reportID, format string) (JobStatus, error) {
	job, err := newJob(reportID, format)
	if err != nil {
		return JobStatus{}, err
	}
	if err := q.save(ctx, &job); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ref())).Err(); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil || len(data) == 0 {
		return JobStatus{}, false, err
	}
	job, err := jobFromHash(jobID, data)
	if err != nil {
		return JobStatus{}, false, err
	}
	return job, true, nil
}

// Run consumes the stream with concurrency consumers until ctx ends.
func (q *RedisJobQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := range concurrency {
		consumer := fmt.Sprintf("%s-%d", q.cfg.Consumer, i)
		g.Go(func() error {
			for gctx.Err() == nil {
				q.poll(gctx, consumer, handler)
			}
			return nil
		})
	}
	return g.Wait()
}

func (q *RedisJobQueue) Close() error {
	return q.client.Close()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.setup.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("export queue group create failed", "stream", q.cfg.Stream, "err", err)
		}
	})
}

// poll first takes over messages another consumer left idle, then blocks
// for new ones.
func (q *RedisJobQueue) poll(ctx context.Context, consumer string, handler Handler) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    q.cfg.ClaimCount,
	}).Result()
	if err == nil {
		for _, msg := range claimed {
			q.handleMessage(ctx, msg, handler)
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    q.cfg.ReadCount,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			slog.Warn("export queue read failed", "consumer", consumer, "err", err)
			sleepCtx(ctx, q.cfg.RetryDelay)
		}
		return
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			q.handleMessage(ctx, msg, handler)
		}
	}
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	ref, ok := refFromValues(msg.Values)
	if !ok {
		q.drop(ctx, msg.ID)
		return
	}
	job, err := q.update(ctx, ref, func(j *JobStatus) {
		j.Attempts++
		j.Status = StatusProcessing
	})
	if err != nil {
		slog.Warn("export job status update failed", "job_id", ref.JobID, "err", err)
		q.drop(ctx, msg.ID)
		return
	}

	artifact, runErr := handler(ctx, job)
	if runErr != nil {
		slog.Warn("export job attempt failed", "job_id", job.ID, "report_id", job.ReportID, "attempt", job.Attempts, "err", runErr)
	}
	retry := job.settle(artifact, runErr, q.cfg.MaxRetries)
	if err := q.save(ctx, &job); err != nil {
		slog.Warn("export job status update failed", "job_id", job.ID, "err", err)
	}
	if !retry {
		q.drop(ctx, msg.ID)
		return
	}
	if sleepCtx(ctx, q.cfg.RetryDelay) {
		_ = q.requeueAndAck(ctx, msg.ID, ref)
	}
}

// drop acknowledges and deletes a message that needs no further work.
func (q *RedisJobQueue) drop(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.cfg.Stream, msgID).Result()
}

// requeueAndAck re-adds the job at the stream tail and retires msgID in one
// transaction. On failure the original message stays pending.
func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, ref jobRef) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(ref))
	pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, msgID)
	pipe.XDel(ctx, q.cfg.Stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

// update loads the job, applies fn and writes it back. A missing hash
// (expired or never written) is rebuilt from the stream message.
func (q *RedisJobQueue) update(ctx context.Context, ref jobRef, fn func(*JobStatus)) (JobStatus, error) {
	job, ok, err := q.GetJob(ctx, ref.JobID)
	if err != nil {
		return JobStatus{}, err
	}
	if !ok {
		job = JobStatus{ID: ref.JobID, CreatedAt: time.Now().UTC()}
	}
	if ref.ReportID != "" {
		job.ReportID = ref.ReportID
	}
	if ref.Format != "" {
		job.Format = ref.Format
	}
	fn(&job)
	return job, q.save(ctx, &job)
}

func (q *RedisJobQueue) save(ctx context.Context, job *JobStatus) error {
	job.UpdatedAt = time.Now().UTC()
	key := q.jobKey(job.ID)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, job.hash())
	pipe.Expire(ctx, key, q.cfg.JobTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) addArgs(ref jobRef) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: ref.values(),
	}
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return "job:" + q.cfg.Stream + ":" + jobID
}
