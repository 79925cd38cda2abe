// Command api serves the document REST API and accepts uploads into the
// OCR pipeline.
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
	_, flush, err := logging.New("api", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		slog.Error("API server exited with error.", "error", err)
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
	jobs, err := app.OpenBroker(ctx, cfg, &closers)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.ServeHTTP(gctx, cfg.HTTPAddr, app.NewHTTPHandler(cfg, stores, index, jobs)) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr) })
	return g.Wait()
}
