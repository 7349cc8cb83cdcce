// Package source classifies raw submission fields into a typed audio source
// and validates the requested time window before any acquisition work starts.
package source

import (
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxClipSeconds is the longest window a video reference may request.
const MaxClipSeconds = 180

// ErrInvalidWindow is returned when a video reference's time window is
// non-positive or longer than MaxClipSeconds. It is a terminal validation
// failure and must never be retried.
var ErrInvalidWindow = errors.New("video time window invalid")

// ErrNoSource is returned when a submission carries neither a usable video
// reference, a clip link, nor an uploaded file.
var ErrNoSource = errors.New("no source found")

// Source is the origin of one audio clip. It is a closed set: exactly
// VideoRef, UploadedFile, or RemoteClip.
type Source interface {
	sourceKind() string
}

// VideoRef points into a remote video by platform id and time window.
type VideoRef struct {
	VideoID string  `json:"videoId"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func (VideoRef) sourceKind() string { return "videoRef" }

// Duration returns the requested window length in seconds.
func (v VideoRef) Duration() float64 { return v.End - v.Start }

// UploadedFile marks a source whose bytes were submitted directly. The
// staged path travels on the request, not here; OriginalName keeps the
// uploaded filename so the extension can be inspected later.
type UploadedFile struct {
	OriginalName string `json:"originalName"`
}

func (UploadedFile) sourceKind() string { return "uploadedFile" }

// RemoteClip is a clip-hosting link downloaded as-is, without a window.
type RemoteClip struct {
	URL string `json:"url"`
}

func (RemoteClip) sourceKind() string { return "remoteClip" }

// Validate enforces the acquisition precondition: an uploaded file is always
// acceptable, a remote clip is downloaded whole, and a video reference must
// carry a window of (0, MaxClipSeconds] seconds.
func Validate(s Source) error {
	v, ok := s.(VideoRef)
	if !ok {
		return nil
	}
	d := v.Duration()
	if d <= 0 || d > MaxClipSeconds {
		return fmt.Errorf("%w: %v, %v", ErrInvalidWindow, v.Start, v.End)
	}
	return nil
}

// Envelope carries a Source across serialization boundaries with an explicit
// kind discriminator, so workflow inputs survive JSON and gob round trips.
type Envelope struct {
	Source Source
}

type envelopeWire struct {
	Kind     string          `json:"kind"`
	VideoRef json.RawMessage `json:"videoRef,omitempty"`
	Upload   json.RawMessage `json:"uploadedFile,omitempty"`
	Clip     json.RawMessage `json:"remoteClip,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Source == nil {
		return []byte(`{"kind":""}`), nil
	}
	raw, err := json.Marshal(e.Source)
	if err != nil {
		return nil, err
	}
	w := envelopeWire{Kind: e.Source.sourceKind()}
	switch e.Source.(type) {
	case VideoRef:
		w.VideoRef = raw
	case UploadedFile:
		w.Upload = raw
	case RemoteClip:
		w.Clip = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "":
		e.Source = nil
		return nil
	case "videoRef":
		var v VideoRef
		if err := json.Unmarshal(w.VideoRef, &v); err != nil {
			return err
		}
		e.Source = v
	case "uploadedFile":
		var u UploadedFile
		if err := json.Unmarshal(w.Upload, &u); err != nil {
			return err
		}
		e.Source = u
	case "remoteClip":
		var c RemoteClip
		if err := json.Unmarshal(w.Clip, &c); err != nil {
			return err
		}
		e.Source = c
	default:
		return fmt.Errorf("unknown source kind %q", w.Kind)
	}
	return nil
}

// GobEncode implements gob.GobEncoder by reusing the JSON wire form.
func (e Envelope) GobEncode() ([]byte, error) { return e.MarshalJSON() }

// GobDecode implements gob.GobDecoder.
func (e *Envelope) GobDecode(data []byte) error { return e.UnmarshalJSON(data) }

func init() {
	gob.Register(VideoRef{})
	gob.Register(UploadedFile{})
	gob.Register(RemoteClip{})
}
