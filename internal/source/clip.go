package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
)

var (
	// clipConfig":{"postId":"...","startTimeMs":"1891037","endTimeMs":"1906037"}
	clipConfigPattern = regexp.MustCompile(`clipConfig":\{"postId":"[\w-]+","startTimeMs":"(\d+)","endTimeMs":"(\d+)"\}`)

	// {"videoId":"Gs7QYATahy4"}
	clipVideoIDPattern = regexp.MustCompile(`\{"videoId":"([\w-]+)"`)
)

// ClipResolver fetches a youtube clip landing page and digs the underlying
// video id and window out of the embedded player metadata.
type ClipResolver struct {
	client *http.Client
	logger *slog.Logger
}

// NewClipResolver builds a resolver. A nil client falls back to
// http.DefaultClient.
func NewClipResolver(client *http.Client, logger *slog.Logger) *ClipResolver {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClipResolver{client: client, logger: logger}
}

// ResolveYouTubeClip returns the VideoRef described by the clip page. The
// two pattern matches are independent: the window and the video id each
// apply when found. The boolean reports whether a video id was recovered;
// on false the clip reference should be dropped and classification should
// proceed as if no clip was given.
func (r *ClipResolver) ResolveYouTubeClip(ctx context.Context, clipURL string) (VideoRef, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clipURL, nil)
	if err != nil {
		r.logger.Warn("clip request build failed", "clip", clipURL, "error", err)
		return VideoRef{}, false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("clip page fetch failed", "clip", clipURL, "error", err)
		return VideoRef{}, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.Warn("clip page read failed", "clip", clipURL, "error", err)
		return VideoRef{}, false
	}

	var ref VideoRef
	if m := clipConfigPattern.FindSubmatch(body); m != nil {
		startMs, errStart := strconv.ParseFloat(string(m[1]), 64)
		endMs, errEnd := strconv.ParseFloat(string(m[2]), 64)
		if errStart == nil && errEnd == nil {
			ref.Start = startMs / 1000
			ref.End = endMs / 1000
		}
	}
	if m := clipVideoIDPattern.FindSubmatch(body); m != nil {
		ref.VideoID = string(m[1])
	}

	if ref.VideoID == "" {
		r.logger.Warn("clip metadata extraction failed, dropping clip", "clip", clipURL)
		return VideoRef{}, false
	}

	r.logger.Info("resolved clip", "videoId", ref.VideoID, "start", ref.Start, "end", ref.End)
	return ref, true
}
