// Package uploader publishes the local audio asset into the object store
// under a collision-free name.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sound-buttons/pipeline/internal/blobstore"
)

// Uploader writes assets to the blob store.
type Uploader struct {
	blobs  blobstore.Store
	logger *slog.Logger
}

// New builds an Uploader.
func New(blobs blobstore.Store, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{blobs: blobs, logger: logger}
}

// Upload stores tempPath at {directory}/{filename}{ext}. On a name
// collision it appends a nanosecond suffix and probes once more; the
// suffix source is effectively unique, so no retry loop is needed. The
// possibly renamed base filename is returned. sourceIP, when known, is
// attached as provenance metadata.
func (u *Uploader) Upload(ctx context.Context, directory, filename, tempPath, sourceIP string) (string, error) {
	ext := filepath.Ext(tempPath)

	key := directory + "/" + filename + ext
	exists, err := u.blobs.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", key, err)
	}
	if exists {
		filename += "_" + strconv.FormatInt(time.Now().UnixNano(), 10)
		key = directory + "/" + filename + ext
		if exists, err = u.blobs.Exists(ctx, key); err != nil {
			return "", fmt.Errorf("probe %s: %w", key, err)
		} else if exists {
			return "", fmt.Errorf("blob name %s still taken after rename", key)
		}
	}
	u.logger.Info("uploading audio", "key", key)

	f, err := os.Open(tempPath)
	if err != nil {
		return "", fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat asset: %w", err)
	}

	opts := blobstore.PutOptions{ContentType: ContentTypeFor(ext)}
	if sourceIP != "" {
		opts.Metadata = map[string]string{"sourceip": sourceIP}
	}
	if err := u.blobs.Put(ctx, key, f, info.Size(), opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	u.logger.Info("upload finished", "key", key, "bytes", info.Size())
	return filename, nil
}

// ContentTypeFor maps an asset extension to its audio MIME type.
func ContentTypeFor(ext string) string {
	switch ext {
	case ".webm":
		return "audio/webm"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	default:
		return "audio/webm"
	}
}
