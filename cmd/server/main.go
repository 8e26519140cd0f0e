// Package main is the entrypoint for the subtitler API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/subtitler/internal/acquire"
	"github.com/kiranshivaraju/subtitler/internal/api"
	"github.com/kiranshivaraju/subtitler/internal/api/handler"
	mw "github.com/kiranshivaraju/subtitler/internal/api/middleware"
	"github.com/kiranshivaraju/subtitler/internal/api/response"
	"github.com/kiranshivaraju/subtitler/internal/cache"
	"github.com/kiranshivaraju/subtitler/internal/config"
	"github.com/kiranshivaraju/subtitler/internal/jobs"
	"github.com/kiranshivaraju/subtitler/internal/media"
	"github.com/kiranshivaraju/subtitler/internal/notify"
	"github.com/kiranshivaraju/subtitler/internal/store"
	"github.com/kiranshivaraju/subtitler/internal/stt"
	"github.com/kiranshivaraju/subtitler/internal/transcribe"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("reading .env failed", "error", err)
	}

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store_backend", cfg.Database.Backend,
		"stt_provider", cfg.STT.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Record store
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. Working directories
	for _, dir := range []string{cfg.Media.DownloadDir, cfg.Media.MediaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	// 5. Media tools and speech-to-text provider
	runner := media.ExecRunner{}
	transcoder := media.NewTranscoder(runner, cfg.Tools.FFmpegPath, cfg.Tools.TranscodeTimeout, cfg.Tools.SplitTimeout)
	splitter := media.NewSplitter(media.NewProber(runner, cfg.Tools.FFprobePath, cfg.Tools.ProbeTimeout), transcoder)

	recognizer, err := stt.NewRecognizer(cfg.STT, cfg.Tools, runner)
	if err != nil {
		return fmt.Errorf("create STT provider: %w", err)
	}
	slog.Info("STT provider initialized", "provider", recognizer.Name())
	transcriber := transcribe.New(recognizer, splitter, transcoder, transcribe.OptionsFromConfig(cfg.STT))

	// 6. Notification sinks
	notifier, closeNotifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// 7. Pipeline and runner
	pipeline := jobs.NewPipeline(
		st,
		jobs.NewStoreReporter(st, redisCache),
		acquire.NewYTDLP(runner, cfg.Tools),
		transcoder,
		transcriber,
		notifier,
		jobs.PipelineConfig{
			DownloadDir:   cfg.Media.DownloadDir,
			PublicURL:     cfg.Server.PublicURL,
			NotifyTimeout: cfg.Notify.Timeout,
		},
	)
	jobRunner := jobs.NewRunner(st, pipeline, cfg.Runner.Workers, cfg.Runner.QueueSize)
	slog.Info("job runner started", "workers", cfg.Runner.Workers, "queue_size", cfg.Runner.QueueSize)

	// 8. Build router with dependencies
	jobsHandler := handler.NewJobs(jobRunner, st, redisCache, handler.JobsConfig{
		MediaDir:       cfg.Media.MediaDir,
		DownloadDir:    cfg.Media.DownloadDir,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
	})
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	if !auth.Enabled() {
		slog.Warn("API_KEY_HASH not set, mutating routes are unauthenticated")
	}

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: healthHandler(st, redisCache),
		SubmitJob:     jobsHandler.Submit,
		UploadFile:    jobsHandler.Upload,
		ListJobs:      jobsHandler.List,
		GetJob:        jobsHandler.Get,
		JobProgress:   jobsHandler.Progress,
		UpdateJob:     jobsHandler.UpdateTitle,
		DeleteJob:     jobsHandler.Delete,
		DetailPage:    handler.NewDetailHandler(st),
		MediaDir:      cfg.Media.MediaDir,
	})

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		drainRunner(drainCtx, jobRunner)
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	drainRunner(shutdownCtx, jobRunner)

	slog.Info("server stopped gracefully")
	return nil
}

// runnerShutdowner is the part of jobs.Runner that shutdown needs.
type runnerShutdowner interface {
	Shutdown(ctx context.Context) error
}

// drainRunner waits for queued and running jobs until ctx expires, after
// which the runner cancels whatever is still running.
func drainRunner(ctx context.Context, r runnerShutdowner) {
	if err := r.Shutdown(ctx); err != nil {
		slog.Warn("job runner did not drain before timeout, running jobs were cancelled", "error", err)
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(), error) {
	if cfg.Backend == "memory" {
		slog.Warn("using in-memory store, jobs are lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}

	pg, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return pg, pg.Close, nil
}

// buildNotifier fans out to every configured sink. With none configured
// notifications are dropped.
func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, func(), error) {
	var sinks notify.Multi
	closeFn := func() {}

	if cfg.TelegramToken != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.Timeout))
		slog.Info("telegram notifications enabled")
	}

	if cfg.NATSURL != "" {
		nc, err := notify.ConnectNATS(cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, notify.NewNATS(nc, cfg.NATSSubject))
		closeFn = func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}
		slog.Info("nats notifications enabled", "subject_prefix", cfg.NATSSubject)
	}

	if len(sinks) == 0 {
		return notify.Nop{}, closeFn, nil
	}
	return sinks, closeFn, nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
