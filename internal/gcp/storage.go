package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// EnsureBucket creates the bucket if it does not exist yet. A concurrent
// creation by another instance (409 Conflict) is not a failure.
func EnsureBucket(ctx context.Context, bucket *storage.BucketHandle, projectID, location string) error {
	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to read bucket attributes: %w", err)
	}

	err = bucket.Create(ctx, projectID, &storage.BucketAttrs{Location: location})
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		slog.InfoContext(ctx, "Bucket created concurrently by another instance.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	slog.InfoContext(ctx, "Created bucket.", "location", location)
	return nil
}

// IsPreconditionFailed reports whether err is a GCS 412 response, which a
// conditional write returns when the object already exists.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
