// Package app builds the pipeline's collaborators from configuration and
// runs the process roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/config"
	"github.com/Lllllllleong/paperlessflow/internal/gcp"
	"github.com/Lllllllleong/paperlessflow/internal/metastore"
	"github.com/Lllllllleong/paperlessflow/internal/ocr"
	"github.com/Lllllllleong/paperlessflow/internal/search"
)

// Closers releases resources in reverse order of acquisition.
type Closers []func() error

func (c *Closers) add(fn func() error) { *c = append(*c, fn) }

// Close runs every closer and joins their errors.
func (c Closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stores are the blob and metadata stores shared by every role.
type Stores struct {
	Blobs blobstore.Store
	Docs  metastore.Repository
}

// OpenStores connects to the blob store and the configured metadata backend.
func OpenStores(ctx context.Context, cfg *config.Config, closers *Closers) (*Stores, error) {
	if err := cfg.ValidateStores(); err != nil {
		return nil, err
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	closers.add(storageClient.Close)
	blobs := blobstore.NewGCSStore(storageClient, cfg.ProjectID, cfg.DocumentsBucket, cfg.BucketLocation)

	docs, err := openRepository(ctx, cfg, closers)
	if err != nil {
		return nil, err
	}
	return &Stores{Blobs: blobs, Docs: docs}, nil
}

func openRepository(ctx context.Context, cfg *config.Config, closers *Closers) (metastore.Repository, error) {
	switch cfg.MetadataBackend {
	case config.MetadataMongo:
		client, err := metastore.NewMongoClient(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		closers.add(func() error { return client.Disconnect(context.Background()) })
		return metastore.NewMongoRepository(client.Database(cfg.MongoDatabase), cfg.FirestoreCollection), nil
	default:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		closers.add(client.Close)
		return metastore.NewFirestoreRepository(client, cfg.FirestoreCollection), nil
	}
}

// OpenIndex opens the configured search backend.
func OpenIndex(ctx context.Context, cfg *config.Config, closers *Closers) (search.Index, error) {
	if err := cfg.ValidateSearch(); err != nil {
		return nil, err
	}

	var idx search.Index
	var err error
	switch cfg.SearchBackend {
	case config.SearchSQLite:
		idx, err = search.NewSQLiteIndex(cfg.SQLitePath)
	default:
		idx, err = search.NewElasticIndex(search.ElasticConfig{
			Addresses: cfg.ElasticURLs,
			Username:  cfg.ElasticUsername,
			Password:  cfg.ElasticPassword,
			Index:     cfg.SearchIndex,
		})
	}
	if err != nil {
		return nil, err
	}
	closers.add(idx.Close)
	slog.Info("Search index opened.", "backend", cfg.SearchBackend)
	return idx, nil
}

// BrokerOptions maps configuration onto broker delivery options.
func BrokerOptions(cfg *config.Config) broker.Options {
	return broker.Options{
		Concurrency:     cfg.WorkerConcurrency,
		MaxAttempts:     cfg.MaxDeliveryAttempts,
		DeadLetterTopic: cfg.DeadLetterTopic,
		AckDeadline:     cfg.AckDeadline,
		RedeliveryDelay: time.Second,
	}
}

// OpenBroker connects to the configured messaging substrate. The in-memory
// broker only links roles running in the same process, so its consumer
// groups are declared up front.
func OpenBroker(ctx context.Context, cfg *config.Config, closers *Closers) (broker.Broker, error) {
	if err := cfg.ValidateBroker(); err != nil {
		return nil, err
	}

	var b broker.Broker
	switch cfg.BrokerBackend {
	case config.BrokerMemory:
		mem := broker.NewMemory(BrokerOptions(cfg))
		mem.Declare(cfg.ProcessingTopic, cfg.WorkerGroup)
		mem.Declare(cfg.ResultsTopic, cfg.CorrelatorGroup)
		b = mem
	default:
		client, err := gcp.NewPubSubClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		b = broker.NewPubSub(client, BrokerOptions(cfg))
	}
	closers.add(b.Close)
	slog.Info("Broker opened.", "backend", cfg.BrokerBackend)
	return b, nil
}

// RecognizerFactory builds the page recognizer for the tesseract engine.
// Binaries that link the cgo Tesseract bindings pass one in.
type RecognizerFactory func(languages []string) ocr.Recognizer

// NewExtractor builds the configured OCR engine.
func NewExtractor(ctx context.Context, cfg *config.Config, newRecognizer RecognizerFactory, closers *Closers) (ocr.Extractor, error) {
	if err := cfg.ValidateOCR(); err != nil {
		return nil, err
	}

	switch cfg.OCREngine {
	case config.OCRVertex:
		client, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create vertex client: %w", err)
		}
		closers.add(client.Close)
		return ocr.NewVertexExtractor(client), nil
	default:
		if newRecognizer == nil {
			return nil, fmt.Errorf("OCR_ENGINE=%s is not available in this binary", cfg.OCREngine)
		}
		return ocr.NewPageImageExtractor(newRecognizer(cfg.OCRLanguages), cfg.PageConcurrency), nil
	}
}
