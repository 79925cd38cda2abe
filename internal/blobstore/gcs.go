package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/paperlessflow/internal/gcp"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Object is a stored blob together with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// GCSStore keeps original upload bytes in a single bucket, keyed by document id.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	projectID string
	location  string

	mu      sync.Mutex
	ensured bool
}

// NewGCSStore returns a store for the given bucket. The bucket is created
// lazily on the first write.
func NewGCSStore(client *storage.Client, projectID, bucket, location string) *GCSStore {
	return &GCSStore{
		client:    client,
		bucket:    bucket,
		projectID: projectID,
		location:  location,
	}
}

// Put writes data under key. The write is conditional on the object not
// existing yet, so a repeated write for the same key is a no-op.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	writer := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if gcp.IsPreconditionFailed(err) {
			slog.InfoContext(ctx, "SKIPPING: Object already exists.", "bucket", s.bucket, "object", key)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

// Get reads the object stored under key.
func (s *GCSStore) Get(ctx context.Context, key string) (Object, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return Object{}, fmt.Errorf("gs://%s/%s: %w", s.bucket, key, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", s.bucket, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read GCS object gs://%s/%s: %w", s.bucket, key, err)
	}
	return Object{Data: data, ContentType: reader.Attrs.ContentType}, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) && !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// ensureBucket creates the bucket once per process. A failure is not
// remembered, so the next write tries again.
func (s *GCSStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	if err := gcp.EnsureBucket(ctx, s.client.Bucket(s.bucket), s.projectID, s.location); err != nil {
		return fmt.Errorf("failed to ensure bucket %s: %w", s.bucket, err)
	}
	s.ensured = true
	return nil
}
