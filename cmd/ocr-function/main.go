// Command ocr-function runs the OCR worker and the result correlator as
// Pub/Sub-triggered CloudEvent functions.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/paperlessflow/internal/app"
	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/config"
	"github.com/Lllllllleong/paperlessflow/internal/correlator"
	"github.com/Lllllllleong/paperlessflow/internal/logging"
	"github.com/Lllllllleong/paperlessflow/internal/ocr/tesseract"
)

var (
	cfg = config.Load()

	// Clients live for the lifetime of the function instance, so the
	// closers are never run.
	workerOnce    sync.Once
	processDocEvt func(context.Context, cloudevents.Event) error
	workerErr     error
	workerClosers app.Closers

	correlatorOnce    sync.Once
	correlateEvt      func(context.Context, cloudevents.Event) error
	correlatorErr     error
	correlatorClosers app.Closers
)

func init() {
	if _, _, err := logging.New("ocr-function", cfg.LogLevel); err != nil {
		slog.Error("Failed to initialise logging, using default logger.", "error", err)
	}

	functions.CloudEvent("ProcessDocument", processDocument)
	functions.CloudEvent("CorrelateResult", correlateResult)
}

func main() {
	port := config.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Function framework exited with error.", "error", err)
		os.Exit(1)
	}
}

// processDocument handles one processing job pushed by Pub/Sub.
func processDocument(ctx context.Context, e cloudevents.Event) error {
	workerOnce.Do(func() {
		processDocEvt, workerErr = initWorker(context.Background())
	})
	if workerErr != nil {
		slog.Error("Critical error during OCR worker initialization", "error", workerErr)
		return workerErr
	}
	return processDocEvt(ctx, e)
}

// correlateResult handles one OCR result pushed by Pub/Sub.
func correlateResult(ctx context.Context, e cloudevents.Event) error {
	correlatorOnce.Do(func() {
		correlateEvt, correlatorErr = initCorrelator(context.Background())
	})
	if correlatorErr != nil {
		slog.Error("Critical error during result correlator initialization", "error", correlatorErr)
		return correlatorErr
	}
	return correlateEvt(ctx, e)
}

func initWorker(ctx context.Context) (func(context.Context, cloudevents.Event) error, error) {
	stores, err := app.OpenStores(ctx, cfg, &workerClosers)
	if err != nil {
		return nil, err
	}
	index, err := app.OpenIndex(ctx, cfg, &workerClosers)
	if err != nil {
		return nil, err
	}
	results, err := app.OpenBroker(ctx, cfg, &workerClosers)
	if err != nil {
		return nil, err
	}
	extractor, err := app.NewExtractor(ctx, cfg, tesseract.Factory, &workerClosers)
	if err != nil {
		return nil, err
	}
	w := app.NewWorker(cfg, stores, extractor, index, results)
	return broker.CloudEventFunc(cfg.ProcessingTopic, w.Handler()), nil
}

func initCorrelator(ctx context.Context) (func(context.Context, cloudevents.Event) error, error) {
	stores, err := app.OpenStores(ctx, cfg, &correlatorClosers)
	if err != nil {
		return nil, err
	}
	return broker.CloudEventFunc(cfg.ResultsTopic, correlator.New(stores.Docs).Handler()), nil
}
