// Package ingest accepts uploads and hands them to the OCR pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/metrics"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// ValidationError rejects an upload before any store is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// Coordinator stores an upload in the blob and metadata stores and, once
// both writes have succeeded, publishes a processing job for it.
type Coordinator struct {
	blobs blobstore.Store
	docs  metastore.Repository
	jobs  broker.Publisher
	topic string

	newID func() string
	now   func() time.Time
}

// NewCoordinator publishes jobs on topic.
func NewCoordinator(blobs blobstore.Store, docs metastore.Repository, jobs broker.Publisher, topic string) *Coordinator {
	if topic == "" {
		topic = broker.TopicProcessing
	}
	return &Coordinator{
		blobs: blobs,
		docs:  docs,
		jobs:  jobs,
		topic: topic,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Submit validates and stores an upload and returns its new document id.
// Any failure after validation leaves neither a blob, a record nor a job
// behind, as far as compensation can reach.
func (c *Coordinator) Submit(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if err := validate(data, contentType); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		slog.Info("Rejected upload.", "filename", filename, "contentType", contentType, "reason", err)
		return "", err
	}

	doc := models.Document{
		ID:         c.newID(),
		Filename:   filepath.Base(filename),
		Filesize:   int64(len(data)),
		Filetype:   contentType,
		UploadDate: c.now().UTC(),
	}
	logCtx := slog.With("documentId", doc.ID, "filename", doc.Filename)
	logCtx.Info("Accepted upload.", "filesize", doc.Filesize)

	if err := c.store(ctx, logCtx, doc, data); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return "", err
	}

	job := models.ProcessingJob{DocumentID: doc.ID, Filename: doc.Filename}
	if err := c.jobs.Publish(ctx, c.topic, job); err != nil {
		logCtx.Error("Failed to publish processing job, removing stored document.", "error", err)
		c.compensate(ctx, logCtx, doc.ID, true, true)
		metrics.Uploads.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("failed to publish processing job: %w", err)
	}

	metrics.Uploads.WithLabelValues("accepted").Inc()
	logCtx.Info("Published processing job.", "topic", c.topic)
	return doc.ID, nil
}

// store writes the blob and the record concurrently. When only one side
// succeeds it is removed again.
func (c *Coordinator) store(ctx context.Context, logCtx *slog.Logger, doc models.Document, data []byte) error {
	var blobErr, docErr error
	var g errgroup.Group
	g.Go(func() error {
		blobErr = c.blobs.Put(ctx, doc.ID, data, doc.Filetype)
		return blobErr
	})
	g.Go(func() error {
		docErr = c.docs.Upsert(ctx, doc)
		return docErr
	})
	if g.Wait() == nil {
		return nil
	}

	logCtx.Error("Failed to store upload.", "blobError", blobErr, "metadataError", docErr)
	c.compensate(ctx, logCtx, doc.ID, blobErr == nil, docErr == nil)
	return fmt.Errorf("failed to store document %s: %w", doc.ID, errors.Join(blobErr, docErr))
}

// compensate deletes whatever was written. It runs even when ctx has been
// cancelled; failures are logged and leave an orphan behind.
func (c *Coordinator) compensate(ctx context.Context, logCtx *slog.Logger, id string, blob, record bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if blob {
		if err := c.blobs.Delete(ctx, id); err != nil {
			logCtx.Error("Failed to remove blob during rollback, blob is orphaned.", "error", err)
		}
	}
	if record {
		if err := c.docs.Delete(ctx, id); err != nil && !errors.Is(err, metastore.ErrNotFound) {
			logCtx.Error("Failed to remove metadata during rollback, record is orphaned.", "error", err)
		}
	}
}

func validate(data []byte, contentType string) error {
	if contentType != models.PDFContentType {
		return &ValidationError{Field: "contentType", Reason: fmt.Sprintf("%q is not %s", contentType, models.PDFContentType)}
	}
	if len(data) == 0 {
		return &ValidationError{Field: "file", Reason: "file is empty"}
	}
	return nil
}
