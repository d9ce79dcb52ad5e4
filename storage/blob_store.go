package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists at the path
var ErrNotFound = errors.New("blob not found")

// BlobStore stores byte payloads addressed by path.
// There is no atomicity across objects: two blobs written one after the
// other may become visible in either order.
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}
