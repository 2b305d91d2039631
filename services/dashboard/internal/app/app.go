package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"datapivots/internal/ratelimit"
	"datapivots/internal/sessiontoken"
	"datapivots/pkg/auth"
	"datapivots/pkg/chat"
	"datapivots/pkg/dashboard"
	"datapivots/pkg/export"
	"datapivots/pkg/kv"
	"datapivots/pkg/queue"
	"datapivots/pkg/reports"
	"datapivots/pkg/session"
	"datapivots/pkg/storage"
)

// Config holds runtime configuration for the core application.
type Config struct {
	StorageBackend string
	// StoragePrefix namespaces keys in the redis, sqlite and postgres
	// backends. The memory backend is private to the process and ignores it.
	StoragePrefix  string
	SQLitePath     string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string

	ObjectStore    string
	DataDir        string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	SessionSecret     string
	PageSize          int
	Latency           reports.Latency
	ChatDelays        chat.Delays
	MaxUploadBytes    int64
	LoginRateLimit    int
	ExportStream      string
	ExportConcurrency int

	// Store and Objects override the configured backends.
	Store   kv.Store
	Objects storage.ObjectStore
	Logger  *slog.Logger
}

// App owns every long-lived service of the process.
type App struct {
	Store     kv.Store
	Objects   storage.ObjectStore
	Reports   *reports.Manager
	Chat      *chat.Flow
	Dashboard *dashboard.Service
	Sessions  *session.Manager
	Exports   *export.Service
	Limiter   ratelimit.Limiter

	logger  *slog.Logger
	closers []io.Closer
}

// New builds the services and rehydrates persisted state.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store := cfg.Store
	if store == nil {
		var err error
		if store, err = a.openStore(cfg); err != nil {
			return nil, err
		}
	}
	a.Store = store

	objects := cfg.Objects
	if objects == nil {
		var err error
		if objects, err = openObjects(cfg); err != nil {
			return nil, err
		}
	}
	a.Objects = objects

	var err error
	a.Reports, err = reports.NewManager(reports.Config{
		Store:    store,
		PageSize: cfg.PageSize,
		Latency:  cfg.Latency,
		Logger:   logger.With("component", "reports"),
	})
	if err != nil {
		return nil, err
	}
	if err := a.Reports.Load(ctx); err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}

	jobs, err := a.openQueue(cfg)
	if err != nil {
		return nil, err
	}
	a.Exports = export.NewService(jobs, objects, a.Reports, cfg.ExportConcurrency)

	a.Dashboard, err = dashboard.NewService(dashboard.Config{
		Store:    store,
		Reports:  a.Reports,
		Exporter: a.Exports,
		Logger:   logger.With("component", "dashboard"),
	})
	if err != nil {
		return nil, err
	}

	a.Chat, err = chat.NewFlow(chat.Config{
		Store: store,
		Analyzer: &analyzer{
			reports: a.Reports,
			objects: objects,
			now:     time.Now,
			logger:  logger.With("component", "analyzer"),
		},
		Delays:   cfg.ChatDelays,
		MaxBytes: cfg.MaxUploadBytes,
		Logger:   logger.With("component", "chat"),
	})
	if err != nil {
		return nil, err
	}
	if err := a.Chat.Load(ctx); err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}

	tokens, err := sessiontoken.NewManager(sessiontoken.Options{Secret: cfg.SessionSecret})
	if err != nil {
		return nil, fmt.Errorf("init session tokens: %w", err)
	}
	authenticator, err := auth.NewDemoAuthenticator()
	if err != nil {
		return nil, fmt.Errorf("init authenticator: %w", err)
	}
	a.Sessions, err = session.NewManager(store, authenticator, tokens, logger.With("component", "session"))
	if err != nil {
		return nil, err
	}

	if a.Limiter, err = a.openLimiter(cfg); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// RunExports processes export jobs until ctx ends.
func (a *App) RunExports(ctx context.Context) error {
	return a.Exports.Run(ctx)
}

// DeleteReport removes a report together with its change log and upload.
func (a *App) DeleteReport(ctx context.Context, id string) error {
	original := a.originalKey(id)
	if err := a.Reports.DeleteReport(ctx, id); err != nil {
		return err
	}
	a.cleanup(ctx, id, original)
	return nil
}

// DeleteReports is the batch form of DeleteReport.
func (a *App) DeleteReports(ctx context.Context, ids []string) (int, error) {
	originals := make(map[string]string, len(ids))
	for _, id := range ids {
		originals[id] = a.originalKey(id)
	}
	n, err := a.Reports.DeleteReports(ctx, ids)
	if err != nil {
		return 0, err
	}
	for id, key := range originals {
		if _, err := a.Reports.Get(id); errors.Is(err, reports.ErrReportNotFound) {
			a.cleanup(ctx, id, key)
		}
	}
	return n, nil
}

// OpenOriginal streams the uploaded document of a report.
func (a *App) OpenOriginal(ctx context.Context, id string) (storage.Object, string, error) {
	report, err := a.Reports.Get(id)
	if err != nil {
		return storage.Object{}, "", err
	}
	if report.OriginalFile == nil {
		return storage.Object{}, "", fmt.Errorf("%w: report %s has no original file", storage.ErrObjectNotFound, id)
	}
	obj, err := a.Objects.Get(ctx, UploadKey(id, report.OriginalFile.Name))
	if err != nil {
		return storage.Object{}, "", err
	}
	return obj, report.OriginalFile.Name, nil
}

// Close stops the chat sequence and releases backend connections.
func (a *App) Close() error {
	if a.Chat != nil {
		a.Chat.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) originalKey(id string) string {
	report, err := a.Reports.Get(id)
	if err != nil || report.OriginalFile == nil {
		return ""
	}
	return UploadKey(id, report.OriginalFile.Name)
}

func (a *App) cleanup(ctx context.Context, id, originalKey string) {
	ctx = context.WithoutCancel(ctx)
	if err := a.Dashboard.Forget(ctx, id); err != nil {
		a.logger.Warn("drop change log failed", "report_id", id, "err", err)
	}
	if originalKey == "" {
		return
	}
	if err := a.Objects.Delete(ctx, originalKey); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		a.logger.Warn("delete upload failed", "report_id", id, "key", originalKey, "err", err)
	}
}

func (a *App) openStore(cfg Config) (kv.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "memory":
		return kv.NewMemoryStore(), nil
	case "redis":
		s, err := kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.StoragePrefix)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "sqlite":
		s, err := kv.OpenSQLite(cfg.SQLitePath, cfg.StoragePrefix)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	case "postgres":
		s, err := kv.NewGormStore(cfg.DatabaseURL, cfg.StoragePrefix)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func openObjects(cfg Config) (storage.ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ObjectStore)) {
	case "", "local":
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return storage.NewFileStore(filepath.Join(dir, "objects"))
	case "minio":
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

// openQueue uses a Redis stream when Redis is configured and an in-process
// queue otherwise.
func (a *App) openQueue(cfg Config) (export.Queue, error) {
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return queue.NewMemoryJobQueue(64, 3, time.Second), nil
	}
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.ExportStream,
	})
	if err != nil {
		return nil, fmt.Errorf("init export queue: %w", err)
	}
	a.closers = append(a.closers, q)
	return q, nil
}

func (a *App) openLimiter(cfg Config) (ratelimit.Limiter, error) {
	limit := cfg.LoginRateLimit
	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return ratelimit.NewMemoryFixedWindowLimiter(limit, time.Minute)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	a.closers = append(a.closers, client)
	return ratelimit.NewRedisFixedWindowLimiter(client, cfg.StoragePrefix+"datapivots:ratelimit:login", limit, time.Minute)
}
