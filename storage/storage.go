package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo contains metadata about a stored capture.
type FileInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type,omitempty"`
}

// Storage is an object store for captures.
type Storage interface {
	// Upload writes data from reader to path.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download returns a reader for the object at path. The caller closes
	// it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)

	// URL returns an address for the object at path.
	URL(ctx context.Context, path string) (string, error)

	// List returns every object whose path starts with prefix, sorted by
	// path.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}
