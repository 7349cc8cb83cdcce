package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sound-buttons/pipeline/internal/acquire"
	"github.com/sound-buttons/pipeline/internal/blobstore"
	"github.com/sound-buttons/pipeline/internal/catalog"
	"github.com/sound-buttons/pipeline/internal/handlers"
	"github.com/sound-buttons/pipeline/internal/source"
	"github.com/sound-buttons/pipeline/internal/transcribe"
	"github.com/sound-buttons/pipeline/internal/uploader"
	"github.com/sound-buttons/pipeline/internal/workflows"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

// Standalone worker for quick testing: filesystem storage under ./dev-data,
// workflows run inline in the request, no Postgres or DBOS needed.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	httpAddr := envDefault("PIPELINE_HTTP_ADDR", ":8080")
	storageDir := envDefault("STORAGE_DIR", "./dev-data")
	workBase := os.Getenv("WORK_DIR")
	publicBase := envDefault("PUBLIC_BASE_URL", "http://localhost:8080/assets")

	logger.Info("pipeline standalone worker",
		"storage_dir", storageDir,
		"addr", httpAddr)

	blobs, err := blobstore.NewFilesystem(storageDir)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	resolver := acquire.NewYtdlpResolver(
		workBase,
		os.Getenv("YTDLP_PATH"),
		envBool("USE_BUILTIN_YTDLP"),
		nil,
		logger,
	)
	ffmpeg := acquire.NewFFmpeg(envDefault("FFMPEG_PATH", "ffmpeg"), logger)
	acquirer := acquire.New(resolver, ffmpeg, logger)

	stt := transcribe.NewClient(
		envDefault("OPENAI_ENDPOINT", transcribe.DefaultEndpoint),
		os.Getenv("OPENAI_API_KEY"),
		nil,
		logger,
	)
	transcriber := transcribe.NewTranscriber(stt, logger)

	// No DBOS runtime: workflows run synchronously in the request.
	runner := workflows.NewWorkflowRunner(nil, logger)
	workflow := workflows.NewSoundButtonWorkflow(
		acquirer,
		uploader.New(blobs, logger),
		transcriber,
		catalog.NewStore(blobs, logger),
		workBase,
		publicBase,
	)
	runner.Register(pipeline.JobSoundButton, workflow)
	logger.Info("registered workflow", "name", workflow.Name(), "job", pipeline.JobSoundButton)

	ingest := handlers.NewIngestHandler(runner, source.NewClipResolver(nil, logger), acquirer, workBase, logger)
	ingest.Async = false

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/v1/sounds", ingest.HandleSubmit)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		logger.Info("standalone worker starting", "addr", httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
