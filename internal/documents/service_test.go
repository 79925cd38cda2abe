package documents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/paperlessflow/internal/models"
	"github.com/Lllllllleong/paperlessflow/internal/pipelinetest"
)

type fixture struct {
	docs  *pipelinetest.Repository
	blobs *pipelinetest.BlobStore
	index *pipelinetest.Index
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		docs:  pipelinetest.NewRepository(),
		blobs: pipelinetest.NewBlobStore(),
		index: pipelinetest.NewIndex(),
	}
	require.NoError(t, f.docs.Upsert(ctx, models.Document{ID: "D1", Filename: "report.pdf", Filetype: models.PDFContentType, UploadDate: time.Now()}))
	require.NoError(t, f.blobs.Put(ctx, "D1", []byte("%PDF-1.4"), models.PDFContentType))
	require.NoError(t, f.index.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello"}))
	return f
}

func TestGetAndDownload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.docs, f.blobs, nil)

	doc, err := svc.Get(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", doc.Filename)

	_, obj, err := svc.Download(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), obj.Data)
	assert.Equal(t, models.PDFContentType, obj.ContentType)

	_, err = svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.Download(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadMissingBlob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.blobs.Delete(ctx, "D1"))

	_, _, err := NewService(f.docs, f.blobs, nil).Download(ctx, "D1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteKeepsIndexByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewService(f.docs, f.blobs, nil)

	require.NoError(t, svc.Delete(ctx, "D1"))
	assert.Zero(t, f.docs.Len())
	assert.Zero(t, f.blobs.Len())
	_, indexed := f.index.Record("D1")
	assert.True(t, indexed, "index entries are left stale unless purging is enabled")

	assert.ErrorIs(t, svc.Delete(ctx, "D1"), ErrNotFound)
}

func TestDeletePurgesIndexWhenEnabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, NewService(f.docs, f.blobs, f.index).Delete(ctx, "D1"))
	_, indexed := f.index.Record("D1")
	assert.False(t, indexed)
}
