package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tailscale/hujson"

	"github.com/sound-buttons/pipeline/internal/blobstore"
)

// ErrDocumentMissing means no canonical document exists for the directory.
// Collections must be pre-provisioned; the pipeline never creates one.
var ErrDocumentMissing = errors.New("catalog document not found")

// ErrDocumentCorrupt means the canonical document exists but cannot be
// parsed. Synthesizing a default here would silently orphan the
// pre-provisioning requirement, so this is fatal for the run.
var ErrDocumentCorrupt = errors.New("catalog document unparsable")

// ErrMergeConflict is returned when the bounded compare-and-swap loop ran
// out of attempts against concurrent writers.
var ErrMergeConflict = errors.New("catalog merge conflict not resolved")

const (
	mergeAttempts    = 3
	retryBufferSize  = 8192
	backupTimeLayout = "2006-01-02-15-04"
)

// Store reads and writes catalog documents through the blob store.
type Store struct {
	blobs  blobstore.Store
	logger *slog.Logger
}

// NewStore wraps the blob store.
func NewStore(blobs blobstore.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, logger: logger}
}

// DocumentKey returns the canonical document key for a directory.
func DocumentKey(directory string) string {
	return directory + "/" + directory + ".json"
}

// BackupKey returns the timestamped snapshot key for a directory.
func BackupKey(directory string, now time.Time) string {
	return directory + "/UploadJson/" + now.Format(backupTimeLayout) + ".json"
}

// Load reads and decodes the canonical document, returning its ETag for a
// later conditional write. Reads tolerate comments and trailing commas:
// the documents are hand-edited by collection owners.
func (s *Store) Load(ctx context.Context, directory string) (*Document, string, error) {
	key := DocumentKey(directory)

	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("check %s: %w", key, err)
	}
	if !exists {
		return nil, "", fmt.Errorf("%s: %w", key, ErrDocumentMissing)
	}

	reader, etag, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		// Large documents have failed mid-read on constrained workers
		// before. One retry with a small fixed buffer, then give up.
		s.logger.Error("catalog read failed, retrying with smaller buffer", "key", key, "error", err)
		raw, err = s.rereadSmallBuffer(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("read %s: %w", key, err)
		}
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w: %v", key, ErrDocumentCorrupt, err)
	}
	var doc Document
	if err := json.Unmarshal(std, &doc); err != nil {
		return nil, "", fmt.Errorf("%s: %w: %v", key, ErrDocumentCorrupt, err)
	}
	return &doc, etag, nil
}

func (s *Store) rereadSmallBuffer(ctx context.Context, key string) ([]byte, error) {
	reader, _, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(bufio.NewReaderSize(reader, retryBufferSize))
}

// Save writes the document to its canonical key and a timestamped backup.
// Both writes belong to one logical operation: if either fails the save did
// not happen. The canonical write is conditional on etag when the backend
// supports it.
func (s *Store) Save(ctx context.Context, directory string, doc *Document, etag string, now time.Time) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	canonical := DocumentKey(directory)
	opts := blobstore.PutOptions{ContentType: "application/json"}
	if s.blobs.ConditionalWrites() {
		opts.IfMatch = etag
	}
	if err := s.blobs.Put(ctx, canonical, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("write %s: %w", canonical, err)
	}

	backup := BackupKey(directory, now)
	backupOpts := blobstore.PutOptions{ContentType: "application/json"}
	if err := s.blobs.Put(ctx, backup, bytes.NewReader(data), int64(len(data)), backupOpts); err != nil {
		return fmt.Errorf("write %s: %w", backup, err)
	}

	s.logger.Info("catalog written", "canonical", canonical, "backup", backup)
	return nil
}

// Append runs the read-merge-write cycle for one new entry. With a backend
// that supports conditional writes this is a bounded compare-and-swap loop;
// without one it degrades to last-write-wins, which callers accept as a
// documented limitation of that backend.
func (s *Store) Append(ctx context.Context, directory string, e Entry, baseRoute string) (*Button, error) {
	attempts := 1
	if s.blobs.ConditionalWrites() {
		attempts = mergeAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		doc, etag, err := s.Load(ctx, directory)
		if err != nil {
			return nil, err
		}
		button := Merge(doc, e, baseRoute)
		err = s.Save(ctx, directory, doc, etag, time.Now())
		if err == nil {
			return button, nil
		}
		if !errors.Is(err, blobstore.ErrPreconditionFailed) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("catalog merge conflict, retrying", "directory", directory, "attempt", i+1)
	}
	return nil, fmt.Errorf("%w: %v", ErrMergeConflict, lastErr)
}

// encodeDocument serializes without HTML escaping so ampersands and
// non-Latin scripts land in the file as-is, matching what the front end
// and the collection owners expect to read.
func encodeDocument(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}
