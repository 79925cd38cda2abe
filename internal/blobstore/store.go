// Package blobstore holds original upload bytes keyed by document id.
package blobstore

import "context"

// Store is implemented by every blob backend.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
}

var _ Store = (*GCSStore)(nil)
