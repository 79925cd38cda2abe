// Command result-correlator consumes OCR results and marks the matching
// documents complete.
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
)

func main() {
	cfg := config.Load()
	_, flush, err := logging.New("result-correlator", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		slog.Error("Result correlator exited with error.", "error", err)
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
	b, err := app.OpenBroker(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.RunCorrelator(gctx, cfg, b, stores.Docs) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr) })
	return g.Wait()
}
