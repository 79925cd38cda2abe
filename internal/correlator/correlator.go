// Package correlator marks documents complete when their OCR result arrives.
package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/metrics"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// Outcome describes what handling a result did to the metadata store.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeMissing          Outcome = "missing"
	OutcomeMalformed        Outcome = "malformed"
	OutcomeFailed           Outcome = "failed"
)

// Correlator applies OcrResults to Document records.
type Correlator struct {
	docs metastore.Repository
}

// New returns a Correlator that records results in docs.
func New(docs metastore.Repository) *Correlator {
	return &Correlator{docs: docs}
}

// Handler decodes OCR results for a broker subscription. Undecodable
// payloads are dropped without reaching OnResult.
func (c *Correlator) Handler() broker.Handler {
	return func(ctx context.Context, d broker.Delivery) error {
		var res models.OcrResult
		if err := json.Unmarshal(d.Data, &res); err != nil {
			metrics.Results.WithLabelValues(string(OutcomeMalformed)).Inc()
			slog.Warn("Discarding malformed OCR result.", "messageId", d.ID, "error", err)
			return broker.Permanent(fmt.Errorf("%w: %v", broker.ErrMalformed, err))
		}
		return c.Handle(ctx, res)
	}
}

// Handle applies one result and reports broker-facing errors only.
func (c *Correlator) Handle(ctx context.Context, res models.OcrResult) error {
	out, err := c.OnResult(ctx, res)
	metrics.Results.WithLabelValues(string(out)).Inc()
	return err
}

// OnResult sets the completion flag on the result's document. Missing
// documents and documents already complete are successful no-ops, and a
// record deleted concurrently is never recreated.
func (c *Correlator) OnResult(ctx context.Context, res models.OcrResult) (Outcome, error) {
	if res.DocumentID == "" {
		slog.Warn("Discarding OCR result without documentId.")
		return OutcomeMalformed, broker.Permanent(fmt.Errorf("%w: missing documentId", broker.ErrMalformed))
	}
	logCtx := slog.With("documentId", res.DocumentID)

	doc, err := c.docs.Get(ctx, res.DocumentID)
	if errors.Is(err, metastore.ErrNotFound) {
		logCtx.Info("Document no longer exists, discarding OCR result.")
		return OutcomeMissing, nil
	}
	if err != nil {
		logCtx.Warn("Failed to load document.", "error", err)
		return OutcomeFailed, fmt.Errorf("failed to load document %s: %w", res.DocumentID, err)
	}

	if doc.OCRJobDone {
		logCtx.Info("Document already marked complete.")
		return OutcomeAlreadyCompleted, nil
	}

	if err := c.docs.Replace(ctx, doc.WithOCRJobDone()); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			logCtx.Info("Document deleted before completion could be recorded, discarding OCR result.")
			return OutcomeMissing, nil
		}
		logCtx.Warn("Failed to mark document complete.", "error", err)
		return OutcomeFailed, fmt.Errorf("failed to update document %s: %w", res.DocumentID, err)
	}

	logCtx.Info("Marked document OCR complete.", "characters", len(res.OCRText))
	return OutcomeCompleted, nil
}
