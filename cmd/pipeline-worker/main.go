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
	"github.com/sound-buttons/pipeline/internal/dbosruntime"
	"github.com/sound-buttons/pipeline/internal/handlers"
	"github.com/sound-buttons/pipeline/internal/source"
	"github.com/sound-buttons/pipeline/internal/transcribe"
	"github.com/sound-buttons/pipeline/internal/uploader"
	"github.com/sound-buttons/pipeline/internal/workflows"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	httpAddr := envDefault("WORKER_HTTP_ADDR", ":8081")
	workBase := os.Getenv("WORK_DIR")
	publicBase := envDefault("PUBLIC_BASE_URL", "http://localhost:9000/sound-buttons")

	blobs, err := newBlobStore(logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	dbURL := os.Getenv("DBOS_SYSTEM_DATABASE_URL")
	if dbURL == "" {
		logger.Error("DBOS_SYSTEM_DATABASE_URL is required")
		os.Exit(1)
	}
	dbosRuntime, err := dbosruntime.NewRuntime(context.Background(), dbosruntime.Config{
		DatabaseURL: dbURL,
		AppName:     "pipeline-worker",
		QueueName:   os.Getenv("DBOS_QUEUE_NAME"),
		Concurrency: envInt("DBOS_WORKER_CONCURRENCY", 4),
	})
	if err != nil {
		logger.Error("DBOS init failed", "error", err)
		os.Exit(1)
	}

	runner := workflows.NewWorkflowRunner(dbosRuntime, logger)
	workflow, acquirer := buildWorkflow(blobs, workBase, publicBase, logger)
	runner.Register(pipeline.JobSoundButton, workflow)
	logger.Info("registered workflow", "name", workflow.Name(), "job", pipeline.JobSoundButton)

	// Launch must follow workflow registration.
	if err := dbosRuntime.Launch(); err != nil {
		logger.Error("DBOS launch failed", "error", err)
		os.Exit(1)
	}
	defer dbosRuntime.Shutdown(10 * time.Second)

	logger.Info("DBOS runtime initialized",
		"queue", dbosRuntime.QueueName(),
		"concurrency", dbosRuntime.Concurrency())

	clipResolver := source.NewClipResolver(nil, logger)
	ingest := handlers.NewIngestHandler(runner, clipResolver, acquirer, workBase, logger)
	status := handlers.NewStatusHandler(runner, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/v1/sounds", ingest.HandleSubmit)
	mux.HandleFunc("/v1/instances/", status.HandleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		logger.Info("pipeline worker starting", "addr", httpAddr)
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

// buildWorkflow wires the pipeline collaborators against a blob store.
func buildWorkflow(blobs blobstore.Store, workBase, publicBase string, logger *slog.Logger) (*workflows.SoundButtonWorkflow, *acquire.Acquirer) {
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

	up := uploader.New(blobs, logger)
	cat := catalog.NewStore(blobs, logger)

	return workflows.NewSoundButtonWorkflow(acquirer, up, transcriber, cat, workBase, publicBase), acquirer
}

// newBlobStore picks the storage backend from the environment: minio when
// MINIO_ENDPOINT is set, local filesystem otherwise.
func newBlobStore(logger *slog.Logger) (blobstore.Store, error) {
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		logger.Info("using minio storage", "endpoint", endpoint)
		return blobstore.NewMinio(blobstore.MinioConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    envDefault("MINIO_BUCKET", "sound-buttons"),
			UseSSL:    envBool("MINIO_USE_SSL"),
		})
	}
	dir := envDefault("STORAGE_DIR", "./dev-data")
	logger.Info("using filesystem storage", "dir", dir)
	return blobstore.NewFilesystem(dir)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if envBool("LOG_DEBUG") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
