// Package blobstore abstracts the object store holding published audio
// assets and catalog documents, keyed by "{directory}/{name}" paths.
package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned when no object lives at the requested key.
var ErrNotExist = errors.New("blob does not exist")

// ErrPreconditionFailed is returned by a conditional Put whose IfMatch tag
// no longer matches the stored object.
var ErrPreconditionFailed = errors.New("blob etag precondition failed")

// PutOptions carries the side-band attributes of a write.
type PutOptions struct {
	// ContentType is stored as the object's MIME type.
	ContentType string

	// Metadata is attached to the object as user metadata (e.g. sourceip).
	Metadata map[string]string

	// IfMatch makes the write conditional on the object's current ETag.
	// Only honored by backends reporting ConditionalWrites.
	IfMatch string
}

// Store is the object-store surface the pipeline needs.
type Store interface {
	// Exists reports whether an object lives at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Get opens the object at key and reports its current ETag.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)

	// Put writes the object at key. Size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error

	// ConditionalWrites reports whether Put honors IfMatch. Backends
	// without it overwrite unconditionally: concurrent writers to the
	// same key are last-write-wins.
	ConditionalWrites() bool
}
