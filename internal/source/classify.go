package source

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// Strips everything that is not a digit, an ASCII letter, or a letter in
	// any script, so CJK display names survive as filenames.
	nonFilenameChars = regexp.MustCompile(`[^0-9a-zA-Z\p{L}]+`)

	// Extracts the 11-character video id from the common youtube URL shapes.
	youtubeVideoID = regexp.MustCompile(`(?i)https?://(?:[\w-]+\.)?(?:youtu\.be/|youtube(?:-nocookie)?\.com\S*[^\w\s-])([\w-]{11})(?:[^\w-]|$)`)

	youtubeClipURL = regexp.MustCompile(`https?://(?:[\w-]+\.)?(?:youtu\.be/|youtube(?:-nocookie)?\.com/)clip/[?=&+%\w.-]*`)
	twitchClipURL  = regexp.MustCompile(`^(?:https?://(?:clips\.twitch\.tv/|www\.twitch\.tv/[a-z0-9_-]+/clip/))([a-zA-Z0-9_-]+)$`)
)

// ClipKind identifies which clip-hosting pattern a link matched.
type ClipKind int

const (
	ClipNone ClipKind = iota
	ClipYouTube
	ClipTwitch
)

// ClassifyClip matches a clip link against the known hosting patterns.
// Unknown links report ClipNone and are ignored, not rejected.
func ClassifyClip(clipURL string) ClipKind {
	switch {
	case clipURL == "":
		return ClipNone
	case youtubeClipURL.MatchString(clipURL):
		return ClipYouTube
	case twitchClipURL.MatchString(clipURL):
		return ClipTwitch
	default:
		return ClipNone
	}
}

// ParseVideoRef normalizes the raw videoId field into a VideoRef. A value
// that looks like a URL has its id extracted; when extraction fails the
// whole reference is discarded rather than keeping a garbage id.
func ParseVideoRef(videoID string, start, end float64) VideoRef {
	ref := VideoRef{VideoID: videoID, Start: start, End: end}
	if ref.VideoID == "" {
		ref.Start, ref.End = 0, 0
		return ref
	}
	if strings.HasPrefix(ref.VideoID, "http") {
		m := youtubeVideoID.FindStringSubmatch(ref.VideoID)
		if m == nil {
			return VideoRef{}
		}
		ref.VideoID = m[1]
	}
	return ref
}

// SanitizeFilename keeps only letters and digits from the desired name.
// A name with nothing left falls back to a random hex id.
func SanitizeFilename(name string) string {
	cleaned := nonFilenameChars.ReplaceAllString(name, "")
	if cleaned == "" {
		cleaned = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return cleaned
}

// Classify turns the raw submission fields into a Source. Priority follows
// the submission shape: an uploaded file wins, then a recognized clip link,
// then a plain video reference. The returned Source is validated; a video
// reference with a bad window is a terminal ErrInvalidWindow, and a
// submission with nothing usable is ErrNoSource.
func Classify(videoID string, start, end float64, clipURL, uploadName string) (Source, error) {
	ref := ParseVideoRef(videoID, start, end)

	if uploadName != "" {
		return UploadedFile{OriginalName: uploadName}, nil
	}

	// A youtube clip link must be resolved into a video reference before
	// classification; by this point an unresolved one has been dropped.
	if ClassifyClip(clipURL) == ClipTwitch {
		return RemoteClip{URL: clipURL}, nil
	}

	if ref.VideoID == "" {
		return nil, ErrNoSource
	}
	if err := Validate(ref); err != nil {
		return nil, err
	}
	return ref, nil
}
