package acquire

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FFmpeg invokes the external trim/transcode tool.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg wraps the ffmpeg binary; an empty name means "ffmpeg" on PATH.
func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{binary: binary, logger: logger}
}

// CutFromEnd trims the file in place to its final duration seconds.
// The seek is counted from end-of-file, not from the window start: the
// section download may include padding before the window, and published
// assets are keyed to keeping exactly the last duration seconds.
func (f *FFmpeg) CutFromEnd(ctx context.Context, path string, duration float64) error {
	f.logger.Info("cutting audio", "path", path, "duration", duration)

	outputPath := tempOutputPath(path)
	args := []string{
		"-sseof", fmt.Sprintf("-%v", duration),
		"-i", path,
		"-c", "copy",
		"-y", outputPath,
	}
	elapsed, err := f.run(ctx, args)
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	if err := os.Rename(outputPath, path); err != nil {
		return fmt.Errorf("replace cut output: %w", err)
	}
	f.logger.Info("cut audio finished", "path", path, "elapsed", elapsed.Seconds())
	return nil
}

// Transcode strips any video stream and rewrites the audio into the
// canonical .webm container, returning the new path.
func (f *FFmpeg) Transcode(ctx context.Context, path string) (string, error) {
	f.logger.Info("transcoding audio", "path", path)

	outputPath := tempOutputPath(path)
	args := []string{
		"-i", path,
		"-map", "0",
		"-map", "-0:v",
		"-y", outputPath,
	}
	elapsed, err := f.run(ctx, args)
	if err != nil {
		os.Remove(outputPath)
		return "", err
	}

	newPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".webm"
	if err := os.Rename(outputPath, newPath); err != nil {
		return "", fmt.Errorf("replace transcode output: %w", err)
	}
	f.logger.Info("transcode audio finished", "path", newPath, "elapsed", elapsed.Seconds())
	return newPath, nil
}

func tempOutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".out.webm"
}

// run executes ffmpeg, streaming its progress output at debug level, and
// returns the elapsed wall-clock duration.
func (f *FFmpeg) run(ctx context.Context, args []string) (time.Duration, error) {
	f.logger.Debug("ffmpeg arguments", "args", strings.Join(args, " "))

	started := time.Now()
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	var lastLine string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		lastLine = scanner.Text()
		f.logger.Debug(lastLine, "tool", "ffmpeg")
	}

	if err := cmd.Wait(); err != nil {
		return 0, fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine)
	}
	return time.Since(started), nil
}
