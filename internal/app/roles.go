package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/paperlessflow/internal/api"
	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/config"
	"github.com/Lllllllleong/paperlessflow/internal/correlator"
	"github.com/Lllllllleong/paperlessflow/internal/documents"
	"github.com/Lllllllleong/paperlessflow/internal/ingest"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/ocr"
	"github.com/Lllllllleong/paperlessflow/internal/retry"
	"github.com/Lllllllleong/paperlessflow/internal/search"
	"github.com/Lllllllleong/paperlessflow/internal/worker"
)

// NewWorker builds an OCR worker publishing to the configured results topic.
func NewWorker(cfg *config.Config, stores *Stores, extractor ocr.Extractor, index search.Index, results broker.Publisher) *worker.Worker {
	return worker.New(stores.Blobs, extractor, index, results,
		worker.WithIndexPolicy(IndexPolicy(cfg)),
		worker.WithResultsTopic(cfg.ResultsTopic),
	)
}

// RunWorker consumes processing jobs until ctx is cancelled.
func RunWorker(ctx context.Context, cfg *config.Config, sub broker.Subscriber, w *worker.Worker) error {
	slog.Info("OCR worker consuming.", "topic", cfg.ProcessingTopic, "group", cfg.WorkerGroup)
	return sub.Subscribe(ctx, cfg.ProcessingTopic, cfg.WorkerGroup, w.Handler())
}

// RunCorrelator consumes OCR results until ctx is cancelled.
func RunCorrelator(ctx context.Context, cfg *config.Config, sub broker.Subscriber, docs metastore.Repository) error {
	slog.Info("Result correlator consuming.", "topic", cfg.ResultsTopic, "group", cfg.CorrelatorGroup)
	return sub.Subscribe(ctx, cfg.ResultsTopic, cfg.CorrelatorGroup, correlator.New(docs).Handler())
}

// NewHTTPHandler wires ingestion, document access and search behind the
// REST router.
func NewHTTPHandler(cfg *config.Config, stores *Stores, index search.Index, jobs broker.Publisher) http.Handler {
	var purge search.Index
	if cfg.PurgeIndexOnDelete {
		purge = index
	}
	h := api.NewDocumentHandler(
		ingest.NewCoordinator(stores.Blobs, stores.Docs, jobs, cfg.ProcessingTopic),
		documents.NewService(stores.Docs, stores.Blobs, purge),
		search.NewQueryService(index, stores.Docs, search.DefaultLimit),
		cfg.MaxUploadBytes,
	)
	return api.NewRouter(h)
}

// ServeHTTP serves handler on addr until ctx is cancelled, then drains
// in-flight requests.
func ServeHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving HTTP.", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	slog.Info("Shutting down HTTP server.")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// IndexPolicy is the retry policy the worker applies to index upserts.
func IndexPolicy(cfg *config.Config) retry.Policy {
	p := worker.DefaultIndexPolicy
	if cfg.IndexMaxAttempts > 0 {
		p.MaxAttempts = cfg.IndexMaxAttempts
	}
	return p
}
