package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// Filesystem stores objects as files under a base directory. It supports
// conditional writes: each Put takes a per-key advisory lock and compares
// the stored ETag before overwriting, so concurrent catalog merges against
// the same directory detect each other instead of silently losing appends.
type Filesystem struct {
	baseDir string
}

// NewFilesystem creates a filesystem-backed store rooted at baseDir.
func NewFilesystem(baseDir string) (*Filesystem, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Filesystem{baseDir: baseDir}, nil
}

// ConditionalWrites reports true: Put honors IfMatch.
func (fs *Filesystem) ConditionalWrites() bool { return true }

func (fs *Filesystem) resolve(key string) (string, error) {
	path := filepath.Join(fs.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(fs.baseDir)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return path, nil
}

func etagOf(info os.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.Size(), info.ModTime().UnixNano())
}

// Exists checks if a file exists at the given key.
func (fs *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// Get opens the file at key and reports its ETag.
func (fs *Filesystem) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("%s: %w", key, ErrNotExist)
		}
		return nil, "", fmt.Errorf("stat %s: %w", key, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", key, err)
	}
	return f, etagOf(info), nil
}

// Put writes the object, taking a per-key lock for the ETag comparison.
func (fs *Filesystem) Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", key, err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", key)
	}
	defer lock.Unlock()

	if opts.IfMatch != "" {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%s: %w", key, ErrPreconditionFailed)
			}
			return fmt.Errorf("stat %s: %w", key, err)
		}
		if etagOf(info) != opts.IfMatch {
			return fmt.Errorf("%s: %w", key, ErrPreconditionFailed)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}

	if len(opts.Metadata) > 0 || opts.ContentType != "" {
		if err := fs.writeSidecar(path, opts); err != nil {
			return err
		}
	}
	return nil
}

// writeSidecar persists content type and user metadata next to the object,
// standing in for the metadata a real object store keeps server-side.
func (fs *Filesystem) writeSidecar(path string, opts PutOptions) error {
	side := struct {
		ContentType string            `json:"contentType,omitempty"`
		Metadata    map[string]string `json:"metadata,omitempty"`
	}{ContentType: opts.ContentType, Metadata: opts.Metadata}
	data, err := json.Marshal(side)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", path, err)
	}
	if err := os.WriteFile(path+".meta", data, 0o644); err != nil {
		return fmt.Errorf("write metadata for %s: %w", path, err)
	}
	return nil
}

var _ Store = (*Filesystem)(nil)
