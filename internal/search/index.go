// Package search maintains the full-text index of extracted document text.
package search

import (
	"context"
	"errors"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// DefaultIndexName is the index (or table) holding one record per document.
const DefaultIndexName = "documents"

// DefaultLimit caps a query when the caller does not.
const DefaultLimit = 50

// ErrNotFound is returned when deleting a record that is not indexed.
var ErrNotFound = errors.New("search record not found")

// Index is implemented by every search backend. Upsert overwrites by
// document id; Search returns hits ordered by descending score.
type Index interface {
	Upsert(ctx context.Context, rec models.SearchRecord) error
	Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error)
	Delete(ctx context.Context, documentID string) error
	Close() error
}

var (
	_ Index = (*SQLiteIndex)(nil)
	_ Index = (*ElasticIndex)(nil)
)
