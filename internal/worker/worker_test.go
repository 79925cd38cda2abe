package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/models"
	"github.com/Lllllllleong/paperlessflow/internal/ocr"
	"github.com/Lllllllleong/paperlessflow/internal/pipelinetest"
	"github.com/Lllllllleong/paperlessflow/internal/retry"
)

type fixture struct {
	blobs     *pipelinetest.BlobStore
	extractor *pipelinetest.Extractor
	index     *pipelinetest.Index
	results   *pipelinetest.Publisher
	w         *Worker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		blobs:     pipelinetest.NewBlobStore(),
		extractor: &pipelinetest.Extractor{Default: "hello"},
		index:     pipelinetest.NewIndex(),
		results:   &pipelinetest.Publisher{},
	}
	f.w = New(f.blobs, f.extractor, f.index, f.results,
		WithIndexPolicy(retry.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}))
	require.NoError(t, f.blobs.Put(context.Background(), "D1", []byte("%PDF"), models.PDFContentType))
	return f
}

var jobD1 = models.ProcessingJob{DocumentID: "D1", Filename: "report.pdf"}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t)

	state, err := f.w.Process(context.Background(), jobD1)
	require.NoError(t, err)
	assert.Equal(t, StateDone, state)

	rec, ok := f.index.Record("D1")
	require.True(t, ok)
	assert.Equal(t, "hello", rec.OCRText)
	assert.False(t, rec.IndexedAt.IsZero())

	msgs := f.results.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, broker.TopicResults, msgs[0].Topic)
	assert.Equal(t, models.OcrResult{DocumentID: "D1", OCRText: "hello"}, msgs[0].Msg)
}

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for range 2 {
		state, err := f.w.Process(context.Background(), jobD1)
		require.NoError(t, err)
		assert.Equal(t, StateDone, state)
	}
	rec, ok := f.index.Record("D1")
	require.True(t, ok)
	assert.Equal(t, "hello", rec.OCRText)
	assert.Len(t, f.results.Messages(), 2)
}

func TestProcessFailures(t *testing.T) {
	tests := []struct {
		name          string
		job           models.ProcessingJob
		inject        func(f fixture)
		wantErr       bool
		wantPermanent bool
		wantUpserts   int
	}{
		{
			name:          "missing document id",
			job:           models.ProcessingJob{Filename: "x.pdf"},
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:    "blob deleted before job ran",
			job:     models.ProcessingJob{DocumentID: "gone"},
			wantErr: false,
		},
		{
			name:    "blob store unavailable",
			job:     jobD1,
			inject:  func(f fixture) { f.blobs.FailOn("get", errors.New("timeout")) },
			wantErr: true,
		},
		{
			name:          "extraction fails",
			job:           jobD1,
			inject:        func(f fixture) { f.extractor.FailOn("extract", errors.New("corrupt pdf")) },
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "nothing to recognize",
			job:           jobD1,
			inject:        func(f fixture) { f.extractor.FailOn("extract", ocr.ErrNoPageImages) },
			wantErr:       true,
			wantPermanent: true,
		},
		{
			name:          "index keeps failing",
			job:           jobD1,
			inject:        func(f fixture) { f.index.FailOn("upsert", errors.New("cluster red")) },
			wantErr:       true,
			wantPermanent: true,
			wantUpserts:   3,
		},
		{
			name:        "result publish fails",
			job:         jobD1,
			inject:      func(f fixture) { f.results.FailOn("publish", errors.New("broker down")) },
			wantErr:     true,
			wantUpserts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.inject != nil {
				tt.inject(f)
			}

			state, err := f.w.Process(context.Background(), tt.job)
			assert.Equal(t, StateFailed, state)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantPermanent, broker.IsPermanent(err))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantUpserts, f.index.Upserts())
			assert.Empty(t, f.results.Messages(), "no result may be reported for a failed job")
		})
	}
}

func TestProcessCancelledIsRetried(t *testing.T) {
	f := newFixture(t)
	f.w.indexPolicy = retry.Policy{MaxAttempts: 5, InitialBackoff: time.Hour}
	f.index.FailOn("upsert", errors.New("cluster red"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	state, err := f.w.Process(ctx, jobD1)
	assert.Equal(t, StateFailed, state)
	require.Error(t, err)
	assert.False(t, broker.IsPermanent(err))
}

func TestHandlerDropsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	err := f.w.Handler()(context.Background(), broker.Delivery{Data: []byte("{not json")})
	assert.True(t, broker.IsPermanent(err))
	assert.ErrorIs(t, err, broker.ErrMalformed)
}
