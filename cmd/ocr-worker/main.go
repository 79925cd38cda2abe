// Command ocr-worker consumes processing jobs, extracts text from the
// referenced PDFs, indexes it and publishes OCR results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/paperlessflow/internal/app"
	"github.com/Lllllllleong/paperlessflow/internal/config"
	"github.com/Lllllllleong/paperlessflow/internal/logging"
	"github.com/Lllllllleong/paperlessflow/internal/metrics"
	"github.com/Lllllllleong/paperlessflow/internal/ocr/tesseract"
)

func main() {
	cfg := config.Load()
	_, flush, err := logging.New("ocr-worker", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		slog.Error("OCR worker exited with error.", "error", err)
		flush()
		os.Exit(1)
	}
	flush()
}

func run(ctx context.Context, cfg *config.Config) error {
	var closers app.Closers
	defer func() {
		if err := closers.Close(); err != nil {
			slog.Warn("Failed to release resources.", "error", err)
		}
	}()

	stores, err := app.OpenStores(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	index, err := app.OpenIndex(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	b, err := app.OpenBroker(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	extractor, err := app.NewExtractor(ctx, cfg, tesseract.Factory, &closers)
	if err != nil {
		return err
	}
	w := app.NewWorker(cfg, stores, extractor, index, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.RunWorker(gctx, cfg, b, w) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr) })
	return g.Wait()
}
