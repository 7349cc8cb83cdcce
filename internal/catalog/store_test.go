package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sound-buttons/pipeline/internal/blobstore"
)

func newTestStore(t *testing.T) (*Store, *blobstore.Filesystem, string) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.NewFilesystem(dir)
	require.NoError(t, err)
	return NewStore(blobs, nil), blobs, dir
}

func writeDocument(t *testing.T, dir, directory, content string) {
	t.Helper()
	path := filepath.Join(dir, directory, directory+".json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMissingDocument(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, _, err := store.Load(context.Background(), "test")
	assert.ErrorIs(t, err, ErrDocumentMissing)
}

func TestLoadCorruptDocument(t *testing.T) {
	store, _, dir := newTestStore(t)
	writeDocument(t, dir, "test", "{not json at all")

	_, _, err := store.Load(context.Background(), "test")
	assert.ErrorIs(t, err, ErrDocumentCorrupt)
}

func TestLoadToleratesHandEditedJSON(t *testing.T) {
	store, _, dir := newTestStore(t)
	writeDocument(t, dir, "test", `{
		// hand-maintained by the collection owner
		"name": "test",
		"buttonGroups": [
			{"name": {"zh-tw": "group", "ja": ""}, "buttons": [],},
		],
	}`)

	doc, etag, err := store.Load(context.Background(), "test")
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
	assert.Equal(t, "test", doc.Name)
	require.Len(t, doc.ButtonGroups, 1)
}

func TestLoadCoercesZeroVolume(t *testing.T) {
	store, _, dir := newTestStore(t)
	writeDocument(t, dir, "test", `{
		"name": "test",
		"buttonGroups": [
			{"name": {"zh-tw": "g", "ja": "g"},
			 "buttons": [{"filename": "a.webm", "volume": 0}]}
		]
	}`)

	doc, _, err := store.Load(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc.ButtonGroups[0].Buttons[0].Volume)
}

// brokenReader fails every read, standing in for a stream that dies on a
// constrained worker.
type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }
func (brokenReader) Close() error             { return nil }

// flakyStore hands out broken readers for the first N Gets, then delegates.
type flakyStore struct {
	*blobstore.Filesystem
	brokenReads int
}

func (s *flakyStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	reader, etag, err := s.Filesystem.Get(ctx, key)
	if err != nil {
		return reader, etag, err
	}
	if s.brokenReads > 0 {
		s.brokenReads--
		reader.Close()
		return brokenReader{}, etag, nil
	}
	return reader, etag, nil
}

func TestLoadRetriesFailedRead(t *testing.T) {
	dir := t.TempDir()
	fs, err := blobstore.NewFilesystem(dir)
	require.NoError(t, err)
	blobs := &flakyStore{Filesystem: fs, brokenReads: 1}
	store := NewStore(blobs, nil)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	doc, etag, err := store.Load(context.Background(), "test")
	require.NoError(t, err)
	assert.NotEmpty(t, etag)
	assert.Equal(t, "test", doc.Name)
}

func TestLoadGivesUpWhenRetryFailsToo(t *testing.T) {
	dir := t.TempDir()
	fs, err := blobstore.NewFilesystem(dir)
	require.NoError(t, err)
	blobs := &flakyStore{Filesystem: fs, brokenReads: 2}
	store := NewStore(blobs, nil)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	_, _, err = store.Load(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestAppendWritesCanonicalAndBackup(t *testing.T) {
	store, blobs, dir := newTestStore(t)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	ctx := context.Background()
	button, err := store.Append(ctx, "test", Entry{
		Filename: "helloworld.webm",
		Text:     Text{ZhTw: "哈囉"},
		Volume:   0.8,
		Group:    "未分類",
	}, "https://cdn.example.com/test/")
	require.NoError(t, err)
	assert.NotEmpty(t, button.ID)

	// Canonical document carries the new button.
	doc, _, err := store.Load(ctx, "test")
	require.NoError(t, err)
	require.Len(t, doc.ButtonGroups, 1)
	require.Len(t, doc.ButtonGroups[0].Buttons, 1)
	assert.Equal(t, "helloworld.webm", doc.ButtonGroups[0].Buttons[0].Filename)

	// One timestamped backup landed next to it.
	backups, err := os.ReadDir(filepath.Join(dir, "test", "UploadJson"))
	require.NoError(t, err)
	names := make([]string, 0, len(backups))
	for _, b := range backups {
		if filepath.Ext(b.Name()) == ".json" {
			names = append(names, b.Name())
		}
	}
	require.Len(t, names, 1)

	reader, _, err := blobs.Get(ctx, "test/UploadJson/"+names[0])
	require.NoError(t, err)
	defer reader.Close()
	backup, err := io.ReadAll(reader)
	require.NoError(t, err)
	var backupDoc Document
	require.NoError(t, json.Unmarshal(backup, &backupDoc))
	assert.Len(t, backupDoc.ButtonGroups, 1)
}

func TestAppendDoesNotEscapeHTML(t *testing.T) {
	store, blobs, dir := newTestStore(t)
	writeDocument(t, dir, "test", `{"name": "A & B", "buttonGroups": []}`)

	_, err := store.Append(context.Background(), "test", Entry{
		Filename: "a.webm",
		Group:    "g",
	}, "")
	require.NoError(t, err)

	reader, _, err := blobs.Get(context.Background(), "test/test.json")
	require.NoError(t, err)
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "A & B")
	assert.NotContains(t, string(raw), `\u0026`)
}

func TestAppendConcurrentEntriesBothSurvive(t *testing.T) {
	store, _, dir := newTestStore(t)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	ctx := context.Background()
	_, err := store.Append(ctx, "test", Entry{Filename: "first.webm", Group: "g"}, "")
	require.NoError(t, err)
	_, err = store.Append(ctx, "test", Entry{Filename: "second.webm", Group: "g"}, "")
	require.NoError(t, err)

	doc, _, err := store.Load(ctx, "test")
	require.NoError(t, err)
	require.Len(t, doc.ButtonGroups, 1)
	assert.Len(t, doc.ButtonGroups[0].Buttons, 2)
}

// conflictingStore simulates a concurrent writer: the first conditional
// write of the canonical document fails its precondition.
type conflictingStore struct {
	*blobstore.Filesystem
	conflicts int
}

func (c *conflictingStore) Put(ctx context.Context, key string, r io.Reader, size int64, opts blobstore.PutOptions) error {
	if c.conflicts > 0 && opts.IfMatch != "" {
		c.conflicts--
		return blobstore.ErrPreconditionFailed
	}
	return c.Filesystem.Put(ctx, key, r, size, opts)
}

func TestAppendRetriesOnConflict(t *testing.T) {
	dir := t.TempDir()
	fs, err := blobstore.NewFilesystem(dir)
	require.NoError(t, err)
	blobs := &conflictingStore{Filesystem: fs, conflicts: 1}
	store := NewStore(blobs, nil)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	button, err := store.Append(context.Background(), "test", Entry{Filename: "a.webm", Group: "g"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, button.ID)

	doc, _, err := store.Load(context.Background(), "test")
	require.NoError(t, err)
	require.Len(t, doc.ButtonGroups, 1)
	assert.Len(t, doc.ButtonGroups[0].Buttons, 1)
}

func TestAppendGivesUpAfterBoundedConflicts(t *testing.T) {
	dir := t.TempDir()
	fs, err := blobstore.NewFilesystem(dir)
	require.NoError(t, err)
	blobs := &conflictingStore{Filesystem: fs, conflicts: mergeAttempts}
	store := NewStore(blobs, nil)
	writeDocument(t, dir, "test", `{"name": "test", "buttonGroups": []}`)

	_, err = store.Append(context.Background(), "test", Entry{Filename: "a.webm", Group: "g"}, "")
	assert.ErrorIs(t, err, ErrMergeConflict)
}

func TestDocumentKeys(t *testing.T) {
	assert.Equal(t, "test/test.json", DocumentKey("test"))
}
