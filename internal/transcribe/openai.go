// Package transcribe fills missing display names from an external
// speech-to-text API.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// DefaultEndpoint is the OpenAI-compatible API root.
const DefaultEndpoint = "https://api.openai.com/v1"

const (
	transcriptionModel  = "whisper-1"
	transcriptionPrompt = "Remove superfluous words"
)

// ErrNoAPIKey means the client was constructed without credentials;
// transcription is skipped, not failed.
var ErrNoAPIKey = errors.New("transcription api key is not set")

// TranscriptionResponse is the verbose_json response shape; only the
// fields the pipeline reads are modeled.
type TranscriptionResponse struct {
	Task     string  `json:"task"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// Client calls the speech-to-text endpoint.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient builds a transcription client. An empty endpoint means
// DefaultEndpoint.
func NewClient(endpoint, apiKey string, httpClient *http.Client, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, apiKey: apiKey, client: httpClient, logger: logger}
}

// SpeechToText transcribes the audio file with a language hint.
func (c *Client) SpeechToText(ctx context.Context, path, language string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		fields := map[string]string{
			"model":           transcriptionModel,
			"prompt":          transcriptionPrompt,
			"response_format": "verbose_json",
			"temperature":     "0.1",
		}
		if language != "" {
			fields["language"] = language
		}
		for k, v := range fields {
			if err != nil {
				break
			}
			err = form.WriteField(k, v)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/audio/transcriptions", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription failed: %s: %s", resp.Status, body)
	}

	var tr TranscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return tr.Text, nil
}

// SpeechToTexter is the capability the transcriber needs; satisfied by
// Client and by test fakes.
type SpeechToTexter interface {
	SpeechToText(ctx context.Context, path, language string) (string, error)
}

// Transcriber fills empty display-name slots, one language at a time.
type Transcriber struct {
	stt    SpeechToTexter
	logger *slog.Logger
}

// NewTranscriber builds a Transcriber.
func NewTranscriber(stt SpeechToTexter, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{stt: stt, logger: logger}
}

// FillNames attempts each empty slot independently: a failure on one
// language must not prevent trying the other, and no attempt is retried.
// A slot that fails stays empty for this run.
func (t *Transcriber) FillNames(ctx context.Context, path, nameZH, nameJP string) (string, string) {
	if nameJP == "" {
		text, err := t.stt.SpeechToText(ctx, path, "ja")
		if err != nil {
			t.logger.Error("speech to text failed", "language", "ja", "error", err)
		} else {
			nameJP = text
		}
	}
	if nameZH == "" {
		text, err := t.stt.SpeechToText(ctx, path, "zh")
		if err != nil {
			t.logger.Error("speech to text failed", "language", "zh", "error", err)
		} else {
			nameZH = text
		}
	}
	return nameZH, nameJP
}
