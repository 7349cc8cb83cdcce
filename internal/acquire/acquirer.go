package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sound-buttons/pipeline/internal/source"
)

// ErrNoOutput means a tool invocation finished without producing the
// expected file. Tools are not trusted to signal every failure through
// their exit code.
var ErrNoOutput = errors.New("acquisition produced no output file")

// Acquirer produces a normalized local audio asset for a classified source.
type Acquirer struct {
	resolver *YtdlpResolver
	ffmpeg   *FFmpeg
	logger   *slog.Logger
}

// New builds an Acquirer.
func New(resolver *YtdlpResolver, ffmpeg *FFmpeg, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{resolver: resolver, ffmpeg: ffmpeg, logger: logger}
}

// WorkDirPath returns the per-instance working directory path. Keying by
// instance id keeps concurrent workflow instances from colliding on disk.
func WorkDirPath(baseDir, instanceID string) string {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	return filepath.Join(baseDir, "sound-buttons", instanceID)
}

// PrepareWorkDir creates the per-instance working directory.
func PrepareWorkDir(baseDir, instanceID string) (string, error) {
	dir := WorkDirPath(baseDir, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare work dir: %w", err)
	}
	return dir, nil
}

// Acquire downloads and trims the source into workDir and returns the
// asset path. Output filenames are time-derived, so re-running after a
// crash cannot collide with a leftover from the previous attempt.
func (a *Acquirer) Acquire(ctx context.Context, workDir string, src source.Source) (string, error) {
	tempPath := filepath.Join(workDir, strconv.FormatInt(time.Now().UnixNano(), 10)+".webm")

	switch s := src.(type) {
	case source.VideoRef:
		if err := a.downloadSection(ctx, s, tempPath); err != nil {
			return "", err
		}
		if err := a.ffmpeg.CutFromEnd(ctx, tempPath, s.Duration()); err != nil {
			return "", err
		}
	case source.RemoteClip:
		if err := a.downloadURL(ctx, s.URL, tempPath); err != nil {
			return "", err
		}
	case source.UploadedFile:
		// Uploads are staged and normalized at ingestion; reaching the
		// acquire step without a staged path is a programming error.
		return "", fmt.Errorf("uploaded file %q has no staged path", s.OriginalName)
	default:
		return "", fmt.Errorf("unsupported source %T", src)
	}

	if _, err := os.Stat(tempPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoOutput, tempPath)
	}
	return tempPath, nil
}

func (a *Acquirer) downloadSection(ctx context.Context, ref source.VideoRef, tempPath string) error {
	binary, err := a.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve yt-dlp: %w", err)
	}
	d := NewDownloader(binary, a.logger)
	if err := d.DownloadSection(ctx, ref.VideoID, ref.Start, ref.End, tempPath); err != nil {
		return err
	}
	if _, err := os.Stat(tempPath); err != nil {
		return fmt.Errorf("%w: %s", ErrNoOutput, tempPath)
	}
	return nil
}

func (a *Acquirer) downloadURL(ctx context.Context, url, tempPath string) error {
	binary, err := a.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve yt-dlp: %w", err)
	}
	return NewDownloader(binary, a.logger).DownloadURL(ctx, url, tempPath)
}

// NormalizeUpload converts a staged upload into the canonical container
// when its extension differs, returning the (possibly new) path.
func (a *Acquirer) NormalizeUpload(ctx context.Context, path string) (string, error) {
	if filepath.Ext(path) == ".webm" {
		return path, nil
	}
	return a.ffmpeg.Transcode(ctx, path)
}
