package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"datapivots/internal/util"
	"datapivots/pkg/chat"
	"datapivots/pkg/reports"
	"datapivots/services/dashboard/internal/app"
	"datapivots/services/dashboard/internal/config"
	"datapivots/services/dashboard/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	latencies, err := cfg.Latencies()
	if err != nil {
		log.Fatalf("failed to parse latencies: %v", err)
	}
	confirm, invalid, steps, err := cfg.ChatDelays()
	if err != nil {
		log.Fatalf("failed to parse chat delays: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appCore, err := app.New(ctx, app.Config{
		StorageBackend:    cfg.StorageBackend,
		StoragePrefix:     cfg.StoragePrefix,
		SQLitePath:        cfg.SQLitePath,
		DatabaseURL:       cfg.DatabaseURL,
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		ObjectStore:       cfg.ObjectStore,
		DataDir:           cfg.DataDir,
		MinioEndpoint:     cfg.MinioEndpoint,
		MinioAccessKey:    cfg.MinioAccessKey,
		MinioSecretKey:    cfg.MinioSecretKey,
		MinioBucket:       cfg.MinioBucket,
		MinioUseSSL:       cfg.MinioUseSSL,
		SessionSecret:     cfg.SessionSecret,
		PageSize:          cfg.PageSize,
		Latency:           latency(latencies),
		ChatDelays:        chatDelays(confirm, invalid, steps),
		MaxUploadBytes:    cfg.MaxUploadBytes,
		LoginRateLimit:    cfg.LoginRateLimit,
		ExportStream:      cfg.ExportStream,
		ExportConcurrency: cfg.ExportConcurrency,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		if err := appCore.Close(); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	httpServer, err := server.New(server.Config{
		App:            appCore,
		TrustedProxies: trusted,
		CORSOrigins:    cfg.CORSOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr, "storage", cfg.StorageBackend, "objects", cfg.ObjectStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return appCore.RunExports(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "err", err)
	}
	slog.Info("server stopped")
}

// latency keeps the package defaults for every value left unset.
func latency(v [3]time.Duration) reports.Latency {
	l := reports.DefaultLatency
	if v[0] > 0 {
		l.Delete = v[0]
	}
	if v[1] > 0 {
		l.BatchDelete = v[1]
	}
	if v[2] > 0 {
		l.Rename = v[2]
	}
	return l
}

func chatDelays(confirm, invalid time.Duration, steps []time.Duration) chat.Delays {
	d := chat.DefaultDelays
	if confirm > 0 {
		d.Confirm = confirm
	}
	if invalid > 0 {
		d.Invalid = invalid
	}
	if len(steps) == len(d.Steps) {
		copy(d.Steps[:], steps)
	}
	return d
}
