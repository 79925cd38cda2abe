package metastore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// ErrNotFound is returned when no Document record exists for an id.
var ErrNotFound = errors.New("document not found")

// FirestoreRepository stores one Firestore document per Document, keyed by id.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRepository stores records in the named collection.
func NewFirestoreRepository(client *firestore.Client, collection string) *FirestoreRepository {
	return &FirestoreRepository{client: client, collection: collection}
}

func (r *FirestoreRepository) ref(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

// Get returns the record for id.
func (r *FirestoreRepository) Get(ctx context.Context, id string) (models.Document, error) {
	snap, err := r.ref(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.Document{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return decodeSnapshot(snap)
}

// Upsert writes doc, creating or overwriting the record.
func (r *FirestoreRepository) Upsert(ctx context.Context, doc models.Document) error {
	if _, err := r.ref(doc.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
	}
	return nil
}

// Replace overwrites an existing record. It never recreates a record that was
// deleted concurrently; in that case it returns ErrNotFound.
func (r *FirestoreRepository) Replace(ctx context.Context, doc models.Document) error {
	ref := r.ref(doc.ID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		return tx.Set(ref, doc)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", doc.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to replace document %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the record, returning ErrNotFound if it does not exist.
func (r *FirestoreRepository) Delete(ctx context.Context, id string) error {
	_, err := r.ref(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// List returns all records, newest upload first.
func (r *FirestoreRepository) List(ctx context.Context) ([]models.Document, error) {
	it := r.client.Collection(r.collection).OrderBy("uploadDate", firestore.Desc).Documents(ctx)
	defer it.Stop()

	docs := make([]models.Document, 0)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		doc, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (models.Document, error) {
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return models.Document{}, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	if doc.ID == "" {
		doc.ID = snap.Ref.ID
	}
	return doc, nil
}
