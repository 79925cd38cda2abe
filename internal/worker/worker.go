// Package worker runs OCR jobs: fetch the upload, extract its text, index
// it and report the result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/metrics"
	"github.com/Lllllllleong/paperlessflow/internal/models"
	"github.com/Lllllllleong/paperlessflow/internal/ocr"
	"github.com/Lllllllleong/paperlessflow/internal/retry"
	"github.com/Lllllllleong/paperlessflow/internal/search"
)

// State is a step in the life of one job.
type State string

const (
	StateReceived  State = "RECEIVED"
	StateFetched   State = "FETCHED"
	StateExtracted State = "EXTRACTED"
	StateIndexed   State = "INDEXED"
	StateReported  State = "REPORTED"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// DefaultIndexPolicy bounds retries of the index upsert.
var DefaultIndexPolicy = retry.Policy{MaxAttempts: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 5 * time.Second}

// Worker processes ProcessingJobs. It holds no per-job state, so one Worker
// serves any number of concurrent handlers.
type Worker struct {
	blobs       blobstore.Store
	extractor   ocr.Extractor
	index       search.Index
	results     broker.Publisher
	topic       string
	indexPolicy retry.Policy
	now         func() time.Time
}

// Option customises a Worker.
type Option func(*Worker)

// WithIndexPolicy overrides DefaultIndexPolicy.
func WithIndexPolicy(p retry.Policy) Option {
	return func(w *Worker) { w.indexPolicy = p }
}

// WithResultsTopic overrides broker.TopicResults.
func WithResultsTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

// New returns a Worker.
func New(blobs blobstore.Store, extractor ocr.Extractor, index search.Index, results broker.Publisher, opts ...Option) *Worker {
	w := &Worker{
		blobs:       blobs,
		extractor:   extractor,
		index:       index,
		results:     results,
		topic:       broker.TopicResults,
		indexPolicy: DefaultIndexPolicy,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handler decodes processing jobs for a broker subscription.
func (w *Worker) Handler() broker.Handler {
	return broker.JSON(w.Handle)
}

// Handle runs one job and maps its terminal state to a broker outcome:
// nil to acknowledge, a permanent error to drop, any other error to redeliver.
func (w *Worker) Handle(ctx context.Context, job models.ProcessingJob) error {
	_, err := w.Process(ctx, job)
	return err
}

// job tracks one run through the state machine.
type job struct {
	models.ProcessingJob
	state State
	log   *slog.Logger
}

func (j *job) advance(to State) {
	j.log.Debug("Job state changed.", "from", j.state, "to", to)
	j.state = to
}

// fail moves the job to FAILED and records the step it failed at.
func (j *job) fail(err error) (State, error) {
	step := j.state
	j.state = StateFailed
	metrics.Jobs.WithLabelValues(string(StateFailed), string(step)).Inc()
	return StateFailed, err
}

// Process runs job through the state machine and returns its terminal state.
// A FAILED job returns nil when there is nothing to retry, a permanent error
// when retrying cannot help, and a plain error when it should be redelivered.
func (w *Worker) Process(ctx context.Context, pj models.ProcessingJob) (State, error) {
	j := &job{
		ProcessingJob: pj,
		state:         StateReceived,
		log:           slog.With("documentId", pj.DocumentID, "filename", pj.Filename),
	}
	if pj.DocumentID == "" {
		j.log.Warn("Discarding processing job without documentId.")
		return j.fail(broker.Permanent(fmt.Errorf("%w: missing documentId", broker.ErrMalformed)))
	}
	j.log.Info("Starting OCR job.")

	// RECEIVED -> FETCHED
	obj, err := w.blobs.Get(ctx, pj.DocumentID)
	if errors.Is(err, blobstore.ErrNotFound) {
		j.log.Info("Document blob no longer exists, discarding job.")
		return j.fail(nil)
	}
	if err != nil {
		j.log.Warn("Failed to fetch document blob.", "error", err)
		return j.fail(fmt.Errorf("failed to fetch blob: %w", err))
	}
	j.advance(StateFetched)

	// FETCHED -> EXTRACTED
	text, err := w.extractor.ExtractText(ctx, obj.Data)
	if err != nil {
		if ctx.Err() != nil {
			return j.fail(ctx.Err())
		}
		j.log.Error("OCR extraction failed.", "error", err)
		return j.fail(broker.Permanent(fmt.Errorf("failed to extract text: %w", err)))
	}
	j.advance(StateExtracted)
	j.log.Info("Extracted text.", "characters", len(text))

	// EXTRACTED -> INDEXED
	rec := models.SearchRecord{DocumentID: pj.DocumentID, OCRText: text, IndexedAt: w.now().UTC()}
	err = retry.Do(ctx, w.indexPolicy, "index upsert", func(ctx context.Context) error {
		return w.index.Upsert(ctx, rec)
	})
	if err != nil {
		if ctx.Err() != nil {
			return j.fail(ctx.Err())
		}
		j.log.Error("Indexing failed, no result will be reported.", "error", err)
		return j.fail(broker.Permanent(fmt.Errorf("failed to index text: %w", err)))
	}
	j.advance(StateIndexed)

	// INDEXED -> REPORTED
	if err := w.results.Publish(ctx, w.topic, models.OcrResult{DocumentID: pj.DocumentID, OCRText: text}); err != nil {
		j.log.Warn("Failed to publish OCR result.", "error", err)
		return j.fail(fmt.Errorf("failed to publish result: %w", err))
	}
	j.advance(StateReported)

	// REPORTED -> DONE
	j.advance(StateDone)
	metrics.Jobs.WithLabelValues(string(StateDone), "").Inc()
	j.log.Info("OCR job complete.")
	return StateDone, nil
}
