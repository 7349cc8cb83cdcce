// Package pipeline defines the wire types shared by the ingress handlers,
// the workflow runner, and external trigger clients.
package pipeline

import "github.com/sound-buttons/pipeline/internal/source"

// Request is one workflow instance's unit of work. It is created at
// ingestion, mutated in place by the orchestrator steps (filename may be
// renamed on upload collision, names may be filled by transcription), and
// discarded together with its temp directory when the instance finishes.
type Request struct {
	InstanceID string          `json:"instanceId"`
	Directory  string          `json:"directory"`
	Filename   string          `json:"filename"`
	Source     source.Envelope `json:"source"`
	ClipURL    string          `json:"clip,omitempty"`
	NameZH     string          `json:"nameZH"`
	NameJP     string          `json:"nameJP"`
	Volume     float64         `json:"volume"`
	Group      string          `json:"group"`
	TempPath   string          `json:"tempPath,omitempty"`
	ToastID    string          `json:"toastId,omitempty"`
	SourceIP   string          `json:"sourceIp,omitempty"`
}

// SubmitResponse is returned by the ingress endpoint once the workflow
// instance has been enqueued.
type SubmitResponse struct {
	InstanceID string `json:"instanceId"`
	StatusURL  string `json:"statusQueryGetUri"`
}

// Defaults applied at ingestion when the form omits a field.
const (
	DefaultDirectory = "test"
	DefaultGroup     = "未分類"
	DefaultVolume    = 1.0
)

// JobSoundButton is the workflow registration key.
const JobSoundButton = "sound-button"

// MaxUploadBytes caps the size of a directly uploaded audio file.
const MaxUploadBytes = 30 * 1024 * 1024
