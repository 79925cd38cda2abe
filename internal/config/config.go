// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names accepted by the *_BACKEND and OCR_ENGINE settings.
const (
	MetadataFirestore = "firestore"
	MetadataMongo     = "mongo"

	SearchElasticsearch = "elasticsearch"
	SearchSQLite        = "sqlite"

	OCRTesseract = "tesseract"
	OCRVertex    = "vertex"

	BrokerPubSub = "pubsub"
	BrokerMemory = "memory"
)

// Config holds the settings shared by every process role. Each binary only
// validates the part it needs.
type Config struct {
	ProjectID string
	LogLevel  string

	DocumentsBucket string
	BucketLocation  string

	MetadataBackend     string
	FirestoreDatabase   string
	FirestoreCollection string
	MongoURI            string
	MongoDatabase       string

	BrokerBackend       string
	ProcessingTopic     string
	ResultsTopic        string
	WorkerGroup         string
	CorrelatorGroup     string
	WorkerConcurrency   int
	PageConcurrency     int
	MaxDeliveryAttempts int
	DeadLetterTopic     string
	AckDeadline         time.Duration

	SearchBackend    string
	ElasticURLs      []string
	ElasticUsername  string
	ElasticPassword  string
	SearchIndex      string
	SQLitePath       string
	IndexMaxAttempts int

	OCREngine      string
	OCRLanguages   []string
	VertexAIRegion string
	VertexModel    string

	HTTPAddr           string
	MetricsAddr        string
	MaxUploadBytes     int64
	PurgeIndexOnDelete bool
}

// Load reads the configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		ProjectID: GetEnv("PROJECT_ID", ""),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),

		DocumentsBucket: GetEnv("DOCUMENTS_BUCKET", "documents"),
		BucketLocation:  GetEnv("BUCKET_LOCATION", "US"),

		MetadataBackend:     strings.ToLower(GetEnv("METADATA_BACKEND", MetadataFirestore)),
		FirestoreDatabase:   GetEnv("FIRESTORE_DATABASE", ""),
		FirestoreCollection: GetEnv("FIRESTORE_COLLECTION", "documents"),
		MongoURI:            GetEnv("MONGO_URI", ""),
		MongoDatabase:       GetEnv("MONGO_DATABASE", "paperless"),

		BrokerBackend:       strings.ToLower(GetEnv("BROKER_BACKEND", BrokerPubSub)),
		ProcessingTopic:     GetEnv("PROCESSING_TOPIC", "processing"),
		ResultsTopic:        GetEnv("RESULTS_TOPIC", "results"),
		WorkerGroup:         GetEnv("WORKER_GROUP", "ocr-workers"),
		CorrelatorGroup:     GetEnv("CORRELATOR_GROUP", "result-correlators"),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		PageConcurrency:     getEnvInt("OCR_PAGE_CONCURRENCY", 2),
		MaxDeliveryAttempts: getEnvInt("MAX_DELIVERY_ATTEMPTS", 5),
		DeadLetterTopic:     GetEnv("DEAD_LETTER_TOPIC", ""),
		AckDeadline:         getEnvDuration("ACK_DEADLINE", 120*time.Second),

		SearchBackend:    strings.ToLower(GetEnv("SEARCH_BACKEND", SearchElasticsearch)),
		ElasticURLs:      splitList(GetEnv("ELASTICSEARCH_URLS", "http://localhost:9200")),
		ElasticUsername:  GetEnv("ELASTICSEARCH_USERNAME", ""),
		ElasticPassword:  GetEnv("ELASTICSEARCH_PASSWORD", ""),
		SearchIndex:      GetEnv("SEARCH_INDEX", "documents"),
		SQLitePath:       GetEnv("SQLITE_PATH", "data/search.db"),
		IndexMaxAttempts: getEnvInt("INDEX_MAX_ATTEMPTS", 3),

		OCREngine:      strings.ToLower(GetEnv("OCR_ENGINE", OCRTesseract)),
		OCRLanguages:   splitList(GetEnv("OCR_LANGUAGES", "eng")),
		VertexAIRegion: GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:    GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),

		HTTPAddr:           GetEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:        GetEnv("METRICS_ADDR", ":9090"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 32<<20)),
		PurgeIndexOnDelete: getEnvBool("PURGE_INDEX_ON_DELETE", false),
	}
}

// ValidateStores checks the settings needed to reach the blob and metadata stores.
func (c *Config) ValidateStores() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.DocumentsBucket == "" {
		return fmt.Errorf("DOCUMENTS_BUCKET must not be empty")
	}
	switch c.MetadataBackend {
	case MetadataFirestore:
		if c.FirestoreCollection == "" {
			return fmt.Errorf("FIRESTORE_COLLECTION must not be empty")
		}
	case MetadataMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set when METADATA_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("unknown METADATA_BACKEND %q", c.MetadataBackend)
	}
	return nil
}

// ValidateBroker checks the topic and consumer settings.
func (c *Config) ValidateBroker() error {
	switch c.BrokerBackend {
	case BrokerPubSub:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set")
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("unknown BROKER_BACKEND %q", c.BrokerBackend)
	}
	if c.ProcessingTopic == "" || c.ResultsTopic == "" {
		return fmt.Errorf("PROCESSING_TOPIC and RESULTS_TOPIC must not be empty")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1, got %d", c.MaxDeliveryAttempts)
	}
	return nil
}

// ValidateSearch checks the search index settings.
func (c *Config) ValidateSearch() error {
	switch c.SearchBackend {
	case SearchElasticsearch:
		if len(c.ElasticURLs) == 0 {
			return fmt.Errorf("ELASTICSEARCH_URLS must be set when SEARCH_BACKEND=elasticsearch")
		}
	case SearchSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set when SEARCH_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("unknown SEARCH_BACKEND %q", c.SearchBackend)
	}
	if c.SearchIndex == "" {
		return fmt.Errorf("SEARCH_INDEX must not be empty")
	}
	return nil
}

// ValidateOCR checks the OCR engine settings.
func (c *Config) ValidateOCR() error {
	switch c.OCREngine {
	case OCRTesseract:
	case OCRVertex:
		if c.ProjectID == "" || c.VertexAIRegion == "" {
			return fmt.Errorf("PROJECT_ID and VERTEX_AI_REGION must be set when OCR_ENGINE=vertex")
		}
	default:
		return fmt.Errorf("unknown OCR_ENGINE %q", c.OCREngine)
	}
	if c.PageConcurrency < 1 {
		return fmt.Errorf("OCR_PAGE_CONCURRENCY must be at least 1, got %d", c.PageConcurrency)
	}
	return nil
}

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(GetEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
