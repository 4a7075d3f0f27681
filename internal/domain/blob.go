package domain

import (
	"context"
	"io"
)

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	// Put uploads data under path with the given content type.
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart uploads large payloads in parts of partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
	// Exists reports whether an object is present at path. The archiver uses
	// it to verify an upload before deleting the archived rows.
	Exists(ctx context.Context, path string) (bool, error)
}
