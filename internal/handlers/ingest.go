// Package handlers exposes the HTTP surface: multipart submission,
// instance status, and health.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sound-buttons/pipeline/internal/acquire"
	"github.com/sound-buttons/pipeline/internal/source"
	"github.com/sound-buttons/pipeline/internal/workflows"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

// IngestHandler accepts multipart submissions, classifies the source, and
// hands the request to the workflow runner.
type IngestHandler struct {
	runner   *workflows.WorkflowRunner
	resolver *source.ClipResolver
	acquirer *acquire.Acquirer
	workBase string
	logger   *slog.Logger

	// Async enqueues a durable instance and answers 202; when false the
	// workflow runs inline and the handler answers with its result.
	Async bool
}

// NewIngestHandler creates the submission handler.
func NewIngestHandler(runner *workflows.WorkflowRunner, resolver *source.ClipResolver, acquirer *acquire.Acquirer, workBase string, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{
		runner:   runner,
		resolver: resolver,
		acquirer: acquirer,
		workBase: workBase,
		logger:   logger,
		Async:    true,
	}
}

// HandleSubmit handles POST /v1/sounds.
func (h *IngestHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		http.Error(w, "Content-Type must be multipart/form-data", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, pipeline.MaxUploadBytes)
	if err := r.ParseMultipartForm(pipeline.MaxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid form: %v", err), http.StatusBadRequest)
		return
	}

	req := pipeline.Request{
		InstanceID: uuid.NewString(),
		Directory:  formValue(r, "directory", pipeline.DefaultDirectory),
		NameZH:     r.FormValue("nameZH"),
		NameJP:     r.FormValue("nameJP"),
		Group:      formValue(r, "group", pipeline.DefaultGroup),
		Volume:     parseFloat(r.FormValue("volume"), pipeline.DefaultVolume),
		ClipURL:    r.FormValue("clip"),
		ToastID:    r.FormValue("toastId"),
		SourceIP:   clientIP(r),
	}
	req.Filename = source.SanitizeFilename(req.NameZH)

	videoID := r.FormValue("videoId")
	start := parseFloat(r.FormValue("start"), 0)
	end := parseFloat(r.FormValue("end"), 0)

	// A youtube clip link is resolved here, before classification: success
	// replaces the video reference, failure drops the clip entirely.
	switch source.ClassifyClip(req.ClipURL) {
	case source.ClipYouTube:
		if ref, ok := h.resolver.ResolveYouTubeClip(r.Context(), req.ClipURL); ok {
			videoID, start, end = ref.VideoID, ref.Start, ref.End
		}
		req.ClipURL = ""
	case source.ClipTwitch:
		// The whole clip downloads as-is; any video reference is noise.
		videoID, start, end = "", 0, 0
	}

	uploadName, tempPath, err := h.stageUpload(r, req.InstanceID)
	if err != nil {
		h.logger.Error("upload staging failed", "instance_id", req.InstanceID, "error", err)
		http.Error(w, fmt.Sprintf("Upload failed: %v", err), http.StatusBadRequest)
		return
	}
	req.TempPath = tempPath

	src, err := source.Classify(videoID, start, end, req.ClipURL, uploadName)
	if err != nil {
		h.logger.Warn("submission rejected", "instance_id", req.InstanceID, "error", err)
		if req.TempPath != "" {
			os.RemoveAll(acquire.WorkDirPath(h.workBase, req.InstanceID))
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Source = source.Envelope{Source: src}

	h.logger.Info("submission accepted",
		"instance_id", req.InstanceID,
		"directory", req.Directory,
		"filename", req.Filename,
		"source_ip", req.SourceIP)

	if h.Async {
		instanceID, err := h.runner.RunAsync(r.Context(), pipeline.JobSoundButton, req)
		if err != nil {
			h.logger.Error("enqueue failed", "instance_id", req.InstanceID, "error", err)
			http.Error(w, "Failed to enqueue workflow", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, pipeline.SubmitResponse{
			InstanceID: instanceID,
			StatusURL:  "/v1/instances/" + instanceID,
		})
		return
	}

	result, err := h.runner.Run(r.Context(), pipeline.JobSoundButton, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Workflow failed: %v", err), http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
		if result.Failure == workflows.FailureRejected {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, result)
}

// stageUpload copies an optional file part into the instance work dir and
// normalizes its container. Returns the original filename and staged path,
// both empty when no file part was sent.
func (h *IngestHandler) stageUpload(r *http.Request, instanceID string) (string, string, error) {
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return "", "", nil
	}
	if err != nil {
		return "", "", err
	}
	defer file.Close()

	workDir, err := acquire.PrepareWorkDir(h.workBase, instanceID)
	if err != nil {
		return "", "", err
	}
	staged := filepath.Join(workDir, "upload"+filepath.Ext(header.Filename))
	if err := writeFile(staged, file); err != nil {
		return "", "", err
	}

	normalized, err := h.acquirer.NormalizeUpload(r.Context(), staged)
	if err != nil {
		return "", "", fmt.Errorf("normalize upload: %w", err)
	}
	return header.Filename, normalized, nil
}

func writeFile(path string, src multipart.File) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}

func formValue(r *http.Request, field, fallback string) string {
	if v := r.FormValue(field); v != "" {
		return v
	}
	return fallback
}

func parseFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// clientIP prefers the first X-Forwarded-For hop, so the submitter survives
// the reverse proxy in front of the worker.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
