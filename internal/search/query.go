package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// QueryService answers text queries against the index.
type QueryService struct {
	index Index
	docs  metastore.Repository
	limit int
}

// NewQueryService returns a service capped at limit hits per query.
func NewQueryService(index Index, docs metastore.Repository, limit int) *QueryService {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &QueryService{index: index, docs: docs, limit: limit}
}

// Search returns index hits ordered by descending score.
func (s *QueryService) Search(ctx context.Context, query string) ([]models.SearchHit, error) {
	hits, err := s.index.Search(ctx, query, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	return hits, nil
}

// SearchDocuments joins each hit to its metadata record, keeping score order.
// Hits whose record has been deleted since indexing are dropped.
func (s *QueryService) SearchDocuments(ctx context.Context, query string) ([]models.DocumentSearchResult, error) {
	hits, err := s.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	results := make([]models.DocumentSearchResult, 0, len(hits))
	for _, h := range hits {
		doc, err := s.docs.Get(ctx, h.DocumentID)
		if errors.Is(err, metastore.ErrNotFound) {
			slog.Info("Skipping search hit without metadata record.", "documentId", h.DocumentID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load metadata for %s: %w", h.DocumentID, err)
		}
		results = append(results, models.DocumentSearchResult{Document: doc, OCRText: h.OCRText, Score: h.Score})
	}
	return results, nil
}
