// Package objectstore abstracts the bucket storage used by the bulk
// verification pipeline. The production driver targets any
// S3-compatible endpoint; tests use the in-memory twin.
package objectstore

import (
	"context"
	"io"
)

// Store reads and writes objects by bucket and key.
type Store interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key, contentType string, body io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
}
