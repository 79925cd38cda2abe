// Package metastore persists Document metadata records.
//
// Records are immutable values: callers build a new models.Document and hand
// it to Upsert or Replace instead of mutating stored state in place.
package metastore

import (
	"context"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// Repository is implemented by every metadata backend.
type Repository interface {
	Get(ctx context.Context, id string) (models.Document, error)
	Upsert(ctx context.Context, doc models.Document) error
	Replace(ctx context.Context, doc models.Document) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Document, error)
}

var (
	_ Repository = (*FirestoreRepository)(nil)
	_ Repository = (*MongoRepository)(nil)
)
