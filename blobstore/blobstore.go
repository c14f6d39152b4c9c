// Package blobstore provides storage backends for published snapshots.
//
// A BlobStore is a flat namespace of named byte blobs. The store uses it to
// publish snapshot envelopes and to resolve the CURRENT pointer that names
// the latest committed snapshot. Implementations must be safe for concurrent
// use.
//
// # Built-in Implementations
//
//   - Memory: in-memory map, for tests and ephemeral setups
//   - Local: local filesystem with atomic renames
//   - s3.Store: Amazon S3 (multipart uploads, paginated listing)
//   - minio.Store: MinIO and other S3-compatible systems
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for reading and writing named byte blobs.
type BlobStore interface {
	// Put writes a blob atomically, replacing any previous content.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the full content of a blob.
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs under the prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
