// Package archive optionally mirrors hosted files to object storage.
package archive

import (
	"context"
	"io"
)

// ObjectStorage defines the operations the hosting flow needs from an
// S3-compatible backend.
type ObjectStorage interface {
	// PutObject stores a stream under objectKey. Size may be -1 when the
	// final length is not known up front (compressed streams).
	PutObject(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error

	// RemoveObject deletes an object; removing a missing object is a no-op.
	RemoveObject(ctx context.Context, objectKey string) error

	// StatObject returns the stored size, or an error when the object is
	// missing.
	StatObject(ctx context.Context, objectKey string) (int64, error)
}
