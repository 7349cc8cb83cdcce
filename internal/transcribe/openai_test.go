package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte("webm-bytes"), 0o644))
	return path
}

func TestSpeechToText(t *testing.T) {
	var gotAuth string
	var gotFields map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		_, _, err := r.FormFile("file")
		require.NoError(t, err)

		json.NewEncoder(w).Encode(TranscriptionResponse{
			Task:     "transcribe",
			Language: "japanese",
			Duration: 2.1,
			Text:     "おはよう",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", server.Client(), nil)
	text, err := client.SpeechToText(context.Background(), tempAudio(t), "ja")
	require.NoError(t, err)
	assert.Equal(t, "おはよう", text)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "whisper-1", gotFields["model"])
	assert.Equal(t, "Remove superfluous words", gotFields["prompt"])
	assert.Equal(t, "verbose_json", gotFields["response_format"])
	assert.Equal(t, "0.1", gotFields["temperature"])
	assert.Equal(t, "ja", gotFields["language"])
}

func TestSpeechToTextWithoutKey(t *testing.T) {
	client := NewClient("", "", nil, nil)
	_, err := client.SpeechToText(context.Background(), tempAudio(t), "ja")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestSpeechToTextServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", server.Client(), nil)
	_, err := client.SpeechToText(context.Background(), tempAudio(t), "ja")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

// fakeSTT answers per language and can fail selectively.
type fakeSTT struct {
	texts map[string]string
	fails map[string]bool
	calls []string
}

func (f *fakeSTT) SpeechToText(ctx context.Context, path, language string) (string, error) {
	f.calls = append(f.calls, language)
	if f.fails[language] {
		return "", errors.New("transcription failed")
	}
	return f.texts[language], nil
}

func TestFillNames(t *testing.T) {
	t.Run("fills only empty slots", func(t *testing.T) {
		stt := &fakeSTT{texts: map[string]string{"ja": "おはよう", "zh": "早安"}}
		tr := NewTranscriber(stt, nil)

		zh, jp := tr.FillNames(context.Background(), "a.webm", "既存", "")
		assert.Equal(t, "既存", zh)
		assert.Equal(t, "おはよう", jp)
		assert.Equal(t, []string{"ja"}, stt.calls)
	})

	t.Run("one failure does not block the other language", func(t *testing.T) {
		stt := &fakeSTT{
			texts: map[string]string{"zh": "早安"},
			fails: map[string]bool{"ja": true},
		}
		tr := NewTranscriber(stt, nil)

		zh, jp := tr.FillNames(context.Background(), "a.webm", "", "")
		assert.Equal(t, "早安", zh)
		assert.Empty(t, jp)
		assert.Equal(t, []string{"ja", "zh"}, stt.calls)
	})

	t.Run("nothing to fill makes no calls", func(t *testing.T) {
		stt := &fakeSTT{}
		tr := NewTranscriber(stt, nil)

		zh, jp := tr.FillNames(context.Background(), "a.webm", "a", "b")
		assert.Equal(t, "a", zh)
		assert.Equal(t, "b", jp)
		assert.Empty(t, stt.calls)
	})
}
