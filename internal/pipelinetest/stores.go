// Package pipelinetest provides in-memory collaborators for exercising the
// pipeline without cloud services.
package pipelinetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// Faults injects errors into a fake, keyed by operation name.
type Faults struct {
	mu     sync.Mutex
	failOn map[string]error
}

// FailOn makes every call of op return err until cleared with a nil err.
func (f *Faults) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == nil {
		f.failOn = make(map[string]error)
	}
	if err == nil {
		delete(f.failOn, op)
		return
	}
	f.failOn[op] = err
}

func (f *Faults) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failOn[op]
}

// BlobStore is a map-backed blobstore.Store.
type BlobStore struct {
	Faults

	mu      sync.Mutex
	objects map[string]blobstore.Object
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]blobstore.Object)}
}

func (s *BlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := s.check("put"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok {
		return nil
	}
	s.objects[key] = blobstore.Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (s *BlobStore) Get(ctx context.Context, key string) (blobstore.Object, error) {
	if err := s.check("get"); err != nil {
		return blobstore.Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return blobstore.Object{}, fmt.Errorf("%s: %w", key, blobstore.ErrNotFound)
	}
	return obj, nil
}

func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.check("delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Repository is a map-backed metastore.Repository.
type Repository struct {
	Faults

	mu   sync.Mutex
	docs map[string]models.Document
}

func NewRepository() *Repository {
	return &Repository{docs: make(map[string]models.Document)}
}

func (r *Repository) Get(ctx context.Context, id string) (models.Document, error) {
	if err := r.check("get"); err != nil {
		return models.Document{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%s: %w", id, metastore.ErrNotFound)
	}
	return doc, nil
}

func (r *Repository) Upsert(ctx context.Context, doc models.Document) error {
	if err := r.check("upsert"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = doc
	return nil
}

func (r *Repository) Replace(ctx context.Context, doc models.Document) error {
	if err := r.check("replace"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return fmt.Errorf("%s: %w", doc.ID, metastore.ErrNotFound)
	}
	r.docs[doc.ID] = doc
	return nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.check("delete"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%s: %w", id, metastore.ErrNotFound)
	}
	delete(r.docs, id)
	return nil
}

func (r *Repository) List(ctx context.Context) ([]models.Document, error) {
	if err := r.check("list"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadDate.After(out[j].UploadDate) })
	return out, nil
}

// Len reports the number of stored records.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

var (
	_ blobstore.Store      = (*BlobStore)(nil)
	_ metastore.Repository = (*Repository)(nil)
)
