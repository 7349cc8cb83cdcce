// Package acquire turns a classified source into one local, playable,
// trimmed audio file by driving the external yt-dlp and ffmpeg binaries.
package acquire

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var commandContext = exec.CommandContext

// ytdlpReleaseURL is the upstream latest-release download for the tool.
const ytdlpReleaseURL = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp"

// YtdlpResolver locates a usable yt-dlp executable. Resolution is a
// three-tier fallback: a previously provisioned copy, then a fresh
// latest-release fetch, then the bundled copy. A failed update fetch must
// never fail an acquisition on its own.
type YtdlpResolver struct {
	workDir     string
	bundledPath string
	useBundled  bool
	client      *http.Client
	logger      *slog.Logger
}

// NewYtdlpResolver builds a resolver that provisions into workDir.
// bundledPath points at the copy shipped with the deployment; useBundled
// skips the release fetch entirely.
func NewYtdlpResolver(workDir, bundledPath string, useBundled bool, client *http.Client, logger *slog.Logger) *YtdlpResolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YtdlpResolver{
		workDir:     workDir,
		bundledPath: bundledPath,
		useBundled:  useBundled,
		client:      client,
		logger:      logger,
	}
}

// Resolve returns the path of a yt-dlp executable, provisioning one if
// necessary.
func (r *YtdlpResolver) Resolve(ctx context.Context) (string, error) {
	if r.useBundled {
		return r.copyBundled()
	}

	provisioned := filepath.Join(r.workDir, "yt-dlp")
	if _, err := os.Stat(provisioned); err == nil {
		return provisioned, nil
	}
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		return path, nil
	}

	if err := r.fetchLatest(ctx, provisioned); err != nil {
		r.logger.Warn("cannot download yt-dlp, falling back to bundled copy", "error", err)
		return r.copyBundled()
	}
	r.logger.Info("downloaded yt-dlp", "path", provisioned)
	return provisioned, nil
}

func (r *YtdlpResolver) fetchLatest(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ytdlpReleaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release fetch: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

func (r *YtdlpResolver) copyBundled() (string, error) {
	if r.bundledPath == "" {
		return "", fmt.Errorf("no bundled yt-dlp configured")
	}
	if _, err := os.Stat(r.bundledPath); err != nil {
		return "", fmt.Errorf("bundled yt-dlp: %w", err)
	}
	r.logger.Info("using bundled yt-dlp", "path", r.bundledPath)
	return r.bundledPath, nil
}

// Downloader invokes yt-dlp for one acquisition.
type Downloader struct {
	binary string
	logger *slog.Logger
}

// NewDownloader wraps a resolved binary path.
func NewDownloader(binary string, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{binary: binary, logger: logger}
}

// DownloadSection fetches the best audio-only stream for a video id,
// constrained to the requested window via the tool's native section
// download.
func (d *Downloader) DownloadSection(ctx context.Context, videoID string, start, end float64, outputPath string) error {
	args := []string{
		"-f", "251/140",
		"--no-check-certificates",
		"--extractor-args", "youtube:skip=dash",
		"--download-sections", fmt.Sprintf("*%v-%v", start, end),
		"-o", outputPath,
		"https://youtu.be/" + videoID,
	}
	d.logger.Info("downloading audio source", "videoId", videoID, "start", start, "end", end)
	return d.run(ctx, args)
}

// DownloadURL fetches a clip URL whole, without a window.
func (d *Downloader) DownloadURL(ctx context.Context, url, outputPath string) error {
	args := []string{
		"--no-check-certificates",
		"-o", outputPath,
		url,
	}
	d.logger.Info("downloading audio source", "url", url)
	return d.run(ctx, args)
}

// run streams the tool's stdout and stderr line by line into the logs and
// reports its exit status. yt-dlp sometimes exits zero without producing a
// file, so callers must still check for the output's existence.
func (d *Downloader) run(ctx context.Context, args []string) error {
	d.logger.Debug("yt-dlp arguments", "args", strings.Join(args, " "))

	cmd := commandContext(ctx, d.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			d.logger.Info(scanner.Text(), "tool", "yt-dlp")
		}
		close(done)
	}()
	errScanner := bufio.NewScanner(stderr)
	for errScanner.Scan() {
		d.logger.Error(errScanner.Text(), "tool", "yt-dlp")
	}
	<-done

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("yt-dlp failed: %w", err)
	}
	return nil
}
