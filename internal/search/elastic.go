package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// indexMapping analyzes ocrText as full text and keeps documentId exact.
const indexMapping = `{
  "mappings": {
    "properties": {
      "documentId": {"type": "keyword"},
      "ocrText":    {"type": "text"},
      "@timestamp": {"type": "date"}
    }
  }
}`

// ElasticConfig holds connection settings for an Elasticsearch cluster.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// ElasticIndex stores one Elasticsearch document per document id.
type ElasticIndex struct {
	es    *elasticsearch.Client
	index string

	mu      sync.Mutex
	ensured bool
}

// NewElasticIndex builds a client for cfg. The index is created with its
// mapping on first write when it does not exist yet.
func NewElasticIndex(cfg ElasticConfig) (*ElasticIndex, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndexName
	}
	return &ElasticIndex{es: es, index: index}, nil
}

func (e *ElasticIndex) ensureIndex(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensured {
		return nil
	}

	res, err := e.es.Indices.Exists([]string{e.index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", e.index, err)
	}
	res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		e.ensured = true
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("failed to check index %s: %s", e.index, res.Status())
	}

	res, err = e.es.Indices.Create(e.index,
		e.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		e.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// Another instance may have created it first.
		if !bytes.Contains(body, []byte("resource_already_exists_exception")) {
			return fmt.Errorf("failed to create index %s: %s: %s", e.index, res.Status(), body)
		}
	}
	slog.Info("Search index ready.", "index", e.index)
	e.ensured = true
	return nil
}

// Upsert indexes rec under its document id, replacing any earlier version.
// The write is refreshed so it is visible to the next search.
func (e *ElasticIndex) Upsert(ctx context.Context, rec models.SearchRecord) error {
	if err := e.ensureIndex(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode search record: %w", err)
	}

	res, err := e.es.Index(e.index, bytes.NewReader(body),
		e.es.Index.WithDocumentID(rec.DocumentID),
		e.es.Index.WithRefresh("true"),
		e.es.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", rec.DocumentID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index "+rec.DocumentID, res)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string              `json:"_id"`
			Score  float64             `json:"_score"`
			Source models.SearchRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a match query against ocrText.
func (e *ElasticIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return []models.SearchHit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var buf bytes.Buffer
	req := map[string]any{
		"query": map[string]any{
			"match": map[string]any{"ocrText": query},
		},
	}
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(e.index),
		e.es.Search.WithBody(&buf),
		e.es.Search.WithSize(limit),
		e.es.Search.WithIgnoreUnavailable(true))
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return []models.SearchHit{}, nil
	}
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	hits := make([]models.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id := h.Source.DocumentID
		if id == "" {
			id = h.ID
		}
		hits = append(hits, models.SearchHit{DocumentID: id, OCRText: h.Source.OCRText, Score: h.Score})
	}
	return hits, nil
}

// Delete removes the record for documentID.
func (e *ElasticIndex) Delete(ctx context.Context, documentID string) error {
	res, err := e.es.Delete(e.index, documentID,
		e.es.Delete.WithRefresh("true"),
		e.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", documentID, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		return responseError("delete "+documentID, res)
	}
	return nil
}

// Close is a no-op; the client holds no persistent resources.
func (e *ElasticIndex) Close() error { return nil }

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return fmt.Errorf("elasticsearch %s failed: %s: %s", op, res.Status(), bytes.TrimSpace(body))
}
