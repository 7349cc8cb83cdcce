package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sound-buttons/pipeline/internal/acquire"
	"github.com/sound-buttons/pipeline/internal/catalog"
	"github.com/sound-buttons/pipeline/internal/source"
	"github.com/sound-buttons/pipeline/internal/transcribe"
	"github.com/sound-buttons/pipeline/internal/uploader"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

// SoundButtonWorkflow is the durable pipeline for one submission:
// acquire the audio, verify it exists, upload it, optionally transcribe
// the display names, merge the catalog document, and clean up. Every step
// is a checkpoint; on crash recovery completed steps replay their recorded
// results and the remainder runs fresh.
type SoundButtonWorkflow struct {
	acquirer    *acquire.Acquirer
	uploader    *uploader.Uploader
	transcriber *transcribe.Transcriber
	catalog     *catalog.Store
	workBase    string
	publicBase  string
}

// NewSoundButtonWorkflow wires the pipeline's collaborators. publicBase is
// the public asset URL root stamped into newly created catalog groups;
// workBase is where per-instance working directories are created.
func NewSoundButtonWorkflow(
	acquirer *acquire.Acquirer,
	up *uploader.Uploader,
	transcriber *transcribe.Transcriber,
	cat *catalog.Store,
	workBase, publicBase string,
) *SoundButtonWorkflow {
	return &SoundButtonWorkflow{
		acquirer:    acquirer,
		uploader:    up,
		transcriber: transcriber,
		catalog:     cat,
		workBase:    workBase,
		publicBase:  publicBase,
	}
}

// Name returns the workflow name.
func (w *SoundButtonWorkflow) Name() string { return "SoundButtonWorkflow" }

type nameBundle struct {
	ZH string `json:"zh"`
	JP string `json:"jp"`
}

// Execute runs the state machine. Terminal failures are reported through
// the result's failure kind, not as Go errors: the runner must be able to
// tell a rejected request from a crashed worker.
func (w *SoundButtonWorkflow) Execute(wctx *WorkflowContext) (*WorkflowResult, error) {
	req := wctx.Request
	logger := wctx.Logger.With("directory", req.Directory, "group", req.Group)

	src := req.Source.Source
	if src == nil && req.TempPath == "" {
		logger.Error("no source on request")
		return failure(FailureRejected, source.ErrNoSource.Error()), nil
	}
	if err := source.Validate(src); err != nil {
		logger.Error("source validation failed", "error", err)
		return failure(FailureRejected, err.Error()), nil
	}

	// Acquire, unless ingestion already staged an uploaded file.
	if req.TempPath == "" {
		path, err := runStep(wctx, "acquire", func(ctx context.Context) (string, error) {
			workDir, err := acquire.PrepareWorkDir(w.workBase, req.InstanceID)
			if err != nil {
				return "", err
			}
			return w.acquirer.Acquire(ctx, workDir, src)
		})
		if err != nil {
			logger.Error("acquisition failed", "error", err)
			w.cleanup(wctx, logger)
			return failure(FailureAcquisition, err.Error()), nil
		}
		req.TempPath = path
	}

	// Guard: never publish an asset that does not exist on disk.
	exists, err := runStep(wctx, "verify", func(ctx context.Context) (bool, error) {
		_, statErr := os.Stat(req.TempPath)
		return statErr == nil, nil
	})
	if err != nil || !exists {
		logger.Error("acquired file not found", "path", req.TempPath)
		w.cleanup(wctx, logger)
		return failure(FailureAcquisition, fmt.Sprintf("file not found: %s", req.TempPath)), nil
	}

	finalName, err := runStep(wctx, "upload", func(ctx context.Context) (string, error) {
		return w.uploader.Upload(ctx, req.Directory, req.Filename, req.TempPath, req.SourceIP)
	})
	if err != nil {
		logger.Error("upload failed", "error", err)
		w.cleanup(wctx, logger)
		return failure(FailureInternal, err.Error()), nil
	}
	req.Filename = finalName

	// Transcription never fails the workflow; empty slots stay empty.
	names, err := runStep(wctx, "transcribe", func(ctx context.Context) (nameBundle, error) {
		zh, jp := w.transcriber.FillNames(ctx, req.TempPath, req.NameZH, req.NameJP)
		return nameBundle{ZH: zh, JP: jp}, nil
	})
	if err != nil {
		// The closure cannot fail, but the checkpoint layer can. The zero
		// bundle must never overwrite names the submitter provided.
		logger.Warn("transcribe step failed, keeping submitted names", "error", err)
	}
	applyNames(&req, names, err)

	entry := catalog.Entry{
		Filename: req.Filename + filepath.Ext(req.TempPath),
		Text:     catalog.Text{ZhTw: req.NameZH, Ja: req.NameJP},
		Volume:   req.Volume,
		Group:    req.Group,
		Source:   buttonSource(src),
	}
	baseRoute := w.publicBase + "/" + req.Directory + "/"
	_, err = runStep(wctx, "merge", func(ctx context.Context) (string, error) {
		button, mergeErr := w.catalog.Append(ctx, req.Directory, entry, baseRoute)
		if mergeErr != nil {
			return "", mergeErr
		}
		return button.ID, nil
	})
	if err != nil {
		// The asset is already uploaded; it now exists without a catalog
		// entry. That inconsistency window is accepted and must be loud.
		logger.Error("catalog merge failed, uploaded asset has no catalog entry",
			"error", err, "filename", entry.Filename)
		w.cleanup(wctx, logger)
		return failure(FailureCatalog, err.Error()), nil
	}

	w.cleanup(wctx, logger)
	logger.Info("workflow finished", "filename", entry.Filename)
	return &WorkflowResult{
		Success:  true,
		Filename: entry.Filename,
		Outputs: map[string]string{
			"nameZH": req.NameZH,
			"nameJP": req.NameJP,
		},
	}, nil
}

// cleanup removes the instance's working directory on every exit path
// past acquisition. Failures only get logged; nothing depends on cleanup.
func (w *SoundButtonWorkflow) cleanup(wctx *WorkflowContext, logger *slog.Logger) {
	_, err := runStep(wctx, "cleanup", func(ctx context.Context) (bool, error) {
		dir := acquire.WorkDirPath(w.workBase, wctx.Request.InstanceID)
		if err := os.RemoveAll(dir); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
}

// applyNames copies transcribed names onto the request. A failed step
// yields a zero bundle; the request keeps what the submitter sent.
func applyNames(req *pipeline.Request, names nameBundle, err error) {
	if err != nil {
		return
	}
	req.NameZH, req.NameJP = names.ZH, names.JP
}

func failure(kind FailureKind, message string) *WorkflowResult {
	return &WorkflowResult{Success: false, Failure: kind, Message: message}
}

func buttonSource(src source.Source) catalog.ButtonSource {
	if ref, ok := src.(source.VideoRef); ok {
		return catalog.ButtonSource{VideoID: ref.VideoID, Start: ref.Start, End: ref.End}
	}
	return catalog.ButtonSource{}
}
