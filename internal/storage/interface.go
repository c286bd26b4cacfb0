package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by Download when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores uploaded sources and generated artifacts.
type ObjectStorage interface {
	// EnsureBucket prepares the backing bucket or directory.
	EnsureBucket(ctx context.Context) error

	// Upload stores size bytes from reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}
