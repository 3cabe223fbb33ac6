package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"hls-transcoder/internal/platform/config"
	"hls-transcoder/internal/platform/logger"
	"hls-transcoder/internal/platform/metrics"
	"hls-transcoder/internal/transcode"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	mediaRoot := config.GetEnv("MEDIA_ROOT", "./media")
	dbPath := config.LookupEnv("DATABASE_PATH", filepath.Join(mediaRoot, "transcode.db"))
	concurrency := config.GetEnvInt("MAX_CONCURRENT_JOBS", 1)

	pipelineCfg := transcode.Config{
		FFprobePath:        config.GetEnv("FFPROBE_PATH", "ffprobe"),
		FFmpegPath:         config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		ProbeTimeout:       config.GetEnvDuration("PROBE_TIMEOUT", 30*time.Second),
		ThumbnailTimeout:   config.GetEnvDuration("THUMBNAIL_TIMEOUT", 30*time.Second),
		EncodeTimeout:      config.GetEnvDuration("ENCODE_TIMEOUT", 2*time.Hour),
		AllowEmptyManifest: config.GetEnvBool("ALLOW_EMPTY_MANIFEST", false),
	}

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(mediaRoot, 0o755); err != nil {
		log.Error("media root unavailable", "path", mediaRoot, "error", err)
		os.Exit(1)
	}

	var store transcode.Store
	if dbPath == "" {
		log.Warn("DATABASE_PATH empty, using in-memory store")
		store = transcode.NewMemoryStore()
	} else {
		sqlStore, err := transcode.OpenSQLStore(context.Background(), dbPath)
		if err != nil {
			log.Error("open database failed", "path", dbPath, "error", err)
			os.Exit(1)
		}
		defer sqlStore.Close()
		store = sqlStore
	}

	met := metrics.New()
	layout := transcode.Layout{Root: mediaRoot}
	orch := transcode.NewOrchestrator(store, transcode.CommandExecutor{}, layout, pipelineCfg, log, met)
	runner := transcode.NewRunner(orch, concurrency, log, met, func(out transcode.Outcome) {
		if out.Err != nil {
			log.Warn("job failed",
				slog.String("job_id", string(out.JobID)),
				slog.String("run_id", out.RunID),
				slog.String("stage", string(transcode.FailedStage(out.Err))),
				slog.String("error", out.Err.Error()))
			return
		}
		log.Info("job ready", slog.String("job_id", string(out.JobID)), slog.String("run_id", out.RunID))
	})
	h := transcode.NewHandler(store, runner, layout, nil, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Method(http.MethodGet, "/metrics", met.Handler())
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"media_root", mediaRoot,
		"database", dbPath,
		"max_concurrent_jobs", concurrency,
		"allow_empty_manifest", pipelineCfg.AllowEmptyManifest,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections and jobs")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if err := runner.Shutdown(ctx); err != nil {
		log.Error("runner drain incomplete, in-flight jobs cancelled", "error", err)
	}

	log.Info("server stopped")
}
