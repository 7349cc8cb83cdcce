package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sound-buttons/pipeline/internal/acquire"
	"github.com/sound-buttons/pipeline/internal/blobstore"
	"github.com/sound-buttons/pipeline/internal/catalog"
	"github.com/sound-buttons/pipeline/internal/source"
	"github.com/sound-buttons/pipeline/internal/transcribe"
	"github.com/sound-buttons/pipeline/internal/uploader"
	"github.com/sound-buttons/pipeline/internal/workflows"
	"github.com/sound-buttons/pipeline/pkg/pipeline"
)

type fakeSTT struct{}

func (fakeSTT) SpeechToText(ctx context.Context, path, language string) (string, error) {
	return "", errors.New("no transcription in tests")
}

// newSyncHandler wires a handler whose workflow runs inline against a
// filesystem store rooted in a temp dir.
func newSyncHandler(t *testing.T) (*IngestHandler, *blobstore.Filesystem, string) {
	t.Helper()
	storage := t.TempDir()
	blobs, err := blobstore.NewFilesystem(storage)
	require.NoError(t, err)

	workBase := t.TempDir()
	acquirer := acquire.New(nil, acquire.NewFFmpeg("ffmpeg", nil), nil)
	workflow := workflows.NewSoundButtonWorkflow(
		acquirer,
		uploader.New(blobs, nil),
		transcribe.NewTranscriber(fakeSTT{}, nil),
		catalog.NewStore(blobs, nil),
		workBase,
		"https://cdn.example.com",
	)
	runner := workflows.NewWorkflowRunner(nil, nil)
	runner.Register(pipeline.JobSoundButton, workflow)

	h := NewIngestHandler(runner, source.NewClipResolver(nil, nil), acquirer, workBase, nil)
	h.Async = false
	return h, blobs, storage
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, form.WriteField(k, v))
	}
	if fileName != "" {
		part, err := form.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, form.Close())
	return &body, form.FormDataContentType()
}

func TestSubmitMethodNotAllowed(t *testing.T) {
	h, _, _ := newSyncHandler(t)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, httptest.NewRequest(http.MethodGet, "/v1/sounds", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitRequiresMultipart(t *testing.T) {
	h, _, _ := newSyncHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/sounds", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRejectsEmptySubmission(t *testing.T) {
	h, _, _ := newSyncHandler(t)
	body, contentType := multipartBody(t, map[string]string{"nameZH": "hello"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/sounds", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no source")
}

func TestSubmitRejectsBadWindow(t *testing.T) {
	h, _, _ := newSyncHandler(t)
	body, contentType := multipartBody(t, map[string]string{
		"videoId": "UOxkGD8qRB4",
		"start":   "64",
		"end":     "61",
	}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/sounds", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitUploadRunsInline(t *testing.T) {
	h, blobs, storage := newSyncHandler(t)

	// Pre-provisioned catalog document for the default directory.
	docPath := filepath.Join(storage, "test", "test.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(docPath), 0o755))
	require.NoError(t, os.WriteFile(docPath, []byte(`{"name": "test", "buttonGroups": []}`), 0o644))

	body, contentType := multipartBody(t, map[string]string{
		"nameZH": "hello world",
		"nameJP": "ハロー",
		"volume": "0.7",
	}, "clip.webm", []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/v1/sounds", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var result workflows.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "helloworld.webm", result.Filename)

	ctx := context.Background()
	reader, _, err := blobs.Get(ctx, "test/helloworld.webm")
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "webm-bytes", string(data))

	doc, _, err := catalog.NewStore(blobs, nil).Load(ctx, "test")
	require.NoError(t, err)
	require.Len(t, doc.ButtonGroups, 1)
	assert.Equal(t, pipeline.DefaultGroup, doc.ButtonGroups[0].Name.ZhTw)
}

func TestClientIP(t *testing.T) {
	t.Run("prefers first forwarded hop", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		assert.Equal(t, "203.0.113.7", clientIP(req))
	})

	t.Run("falls back to remote addr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		assert.Equal(t, "198.51.100.4", clientIP(req))
	})
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 0.7, parseFloat("0.7", 1))
	assert.Equal(t, 1.0, parseFloat("", 1))
	assert.Equal(t, 1.0, parseFloat("garbage", 1))
}

func TestHandleHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}
