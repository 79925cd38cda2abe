// Package documents serves direct reads and deletes of stored documents.
// None of these operations involve the OCR pipeline.
package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/models"
	"github.com/Lllllllleong/paperlessflow/internal/search"
)

// ErrNotFound is returned for an unknown document id.
var ErrNotFound = errors.New("document not found")

// Service reads and deletes documents across the metadata and blob stores.
type Service struct {
	docs  metastore.Repository
	blobs blobstore.Store
	// index is nil unless stale search entries are purged on delete.
	index search.Index
}

// NewService returns a Service. When purge is non-nil, Delete also removes
// the document's search entry.
func NewService(docs metastore.Repository, blobs blobstore.Store, purge search.Index) *Service {
	return &Service{docs: docs, blobs: blobs, index: purge}
}

// Get returns the metadata record for id.
func (s *Service) Get(ctx context.Context, id string) (models.Document, error) {
	doc, err := s.docs.Get(ctx, id)
	if errors.Is(err, metastore.ErrNotFound) {
		return models.Document{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return doc, err
}

// List returns all documents, newest upload first.
func (s *Service) List(ctx context.Context) ([]models.Document, error) {
	return s.docs.List(ctx)
}

// Download returns the record and the original bytes for id.
func (s *Service) Download(ctx context.Context, id string) (models.Document, blobstore.Object, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return models.Document{}, blobstore.Object{}, err
	}
	obj, err := s.blobs.Get(ctx, id)
	if errors.Is(err, blobstore.ErrNotFound) {
		return models.Document{}, blobstore.Object{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, blobstore.Object{}, err
	}
	if obj.ContentType == "" {
		obj.ContentType = doc.Filetype
	}
	return doc, obj, nil
}

// Delete removes the record and then the blob. The record goes first so a
// result arriving mid-delete finds nothing to update.
func (s *Service) Delete(ctx context.Context, id string) error {
	logCtx := slog.With("documentId", id)

	if err := s.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	if err := s.blobs.Delete(ctx, id); err != nil {
		logCtx.Error("Failed to delete blob after its record, blob is orphaned.", "error", err)
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil && !errors.Is(err, search.ErrNotFound) {
			// The document itself is gone; a stale entry is filtered at query time.
			logCtx.Warn("Failed to purge search entry.", "error", err)
		}
	}
	logCtx.Info("Deleted document.")
	return nil
}
