package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// fakeElastic serves the handful of endpoints ElasticIndex uses.
type fakeElastic struct {
	mu      sync.Mutex
	created bool
	docs    map[string]models.SearchRecord
	queries []string
}

func (f *fakeElastic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
		}
	case r.Method == http.MethodPut && len(parts) == 1:
		f.created = true
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	case (r.Method == http.MethodPut || r.Method == http.MethodPost) && len(parts) == 3 && parts[1] == "_doc":
		var rec models.SearchRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.docs[parts[2]] = rec
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	case r.Method == http.MethodDelete && len(parts) == 3:
		if _, ok := f.docs[parts[2]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		delete(f.docs, parts[2])
		_, _ = io.WriteString(w, `{"result":"deleted"}`)
	case len(parts) == 2 && parts[1] == "_search":
		var req struct {
			Query struct {
				Match struct {
					OCRText string `json:"ocrText"`
				} `json:"match"`
			} `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		q := req.Query.Match.OCRText
		f.queries = append(f.queries, q)

		type hit struct {
			ID     string              `json:"_id"`
			Score  float64             `json:"_score"`
			Source models.SearchRecord `json:"_source"`
		}
		var hits []hit
		for id, rec := range f.docs {
			if strings.Contains(rec.OCRText, q) {
				hits = append(hits, hit{ID: id, Score: 1.5, Source: rec})
			}
		}
		resp := map[string]any{"hits": map[string]any{"hits": hits}}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func newElasticIndex(t *testing.T) (*ElasticIndex, *fakeElastic) {
	t.Helper()
	fake := &fakeElastic{docs: map[string]models.SearchRecord{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	idx, err := NewElasticIndex(ElasticConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return idx, fake
}

func TestElasticIndexUpsertCreatesIndex(t *testing.T) {
	ctx := context.Background()
	idx, fake := newElasticIndex(t)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello world", IndexedAt: now}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.created)
	require.Contains(t, fake.docs, "D1")
	assert.Equal(t, "hello world", fake.docs["D1"].OCRText)
	assert.True(t, now.Equal(fake.docs["D1"].IndexedAt))
}

func TestElasticIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx, fake := newElasticIndex(t)

	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello world", IndexedAt: time.Now()}))
	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D2", OCRText: "goodbye", IndexedAt: time.Now()}))

	hits, err := idx.Search(ctx, "hello", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, models.SearchHit{DocumentID: "D1", OCRText: "hello world", Score: 1.5}, hits[0])

	hits, err = idx.Search(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"hello"}, fake.queries)
}

func TestElasticIndexDelete(t *testing.T) {
	ctx := context.Background()
	idx, _ := newElasticIndex(t)

	require.NoError(t, idx.Upsert(ctx, models.SearchRecord{DocumentID: "D1", OCRText: "hello", IndexedAt: time.Now()}))
	require.NoError(t, idx.Delete(ctx, "D1"))
	assert.ErrorIs(t, idx.Delete(ctx, "D1"), ErrNotFound)
}

func TestElasticIndexUpsertFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodHead {
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"cluster_block_exception"}`)
	}))
	t.Cleanup(srv.Close)

	idx, err := NewElasticIndex(ElasticConfig{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	err = idx.Upsert(context.Background(), models.SearchRecord{DocumentID: "D1", OCRText: "x", IndexedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
