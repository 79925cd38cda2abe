package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/paperlessflow/internal/models"
	"github.com/Lllllllleong/paperlessflow/internal/pipelinetest"
)

func TestQueryServiceSearchDocumentsFiltersMissingMetadata(t *testing.T) {
	ctx := context.Background()
	idx := newSQLiteIndex(t)
	repo := pipelinetest.NewRepository()

	require.NoError(t, repo.Upsert(ctx, models.Document{ID: "D1", Filename: "report.pdf", OCRJobDone: true}))
	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello there", IndexedAt: time.Now()}))
	// D2 was deleted after indexing.
	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D2", OCRText: "hello again", IndexedAt: time.Now()}))

	svc := NewQueryService(idx, repo, 10)

	hits, err := svc.Search(ctx, "hello")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	results, err := svc.SearchDocuments(ctx, "hello")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "D1", results[0].ID)
	assert.Equal(t, "report.pdf", results[0].Filename)
	assert.Equal(t, "hello there", results[0].OCRText)
}

func TestQueryServicePropagatesErrors(t *testing.T) {
	ctx := context.Background()
	idx := pipelinetest.NewIndex()
	repo := pipelinetest.NewRepository()
	svc := NewQueryService(idx, repo, 0)

	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello"}))
	require.NoError(t, repo.Upsert(ctx, models.Document{ID: "D1"}))

	down := errors.New("metadata store down")
	repo.FailOn("get", down)
	_, err := svc.SearchDocuments(ctx, "hello")
	assert.ErrorIs(t, err, down)

	broken := errors.New("index down")
	idx.FailOn("search", broken)
	_, err = svc.Search(ctx, "hello")
	assert.ErrorIs(t, err, broken)
}
