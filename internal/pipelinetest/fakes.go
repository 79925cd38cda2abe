package pipelinetest

import (
	"context"
	"strings"
	"sync"

	"github.com/Lllllllleong/paperlessflow/internal/broker"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// Extractor returns a scripted text for every input, keyed by the PDF bytes.
// Unknown inputs yield Default.
type Extractor struct {
	Faults

	Default string
	ByInput map[string]string

	mu    sync.Mutex
	calls int
}

func (e *Extractor) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if err := e.check("extract"); err != nil {
		return "", err
	}
	if text, ok := e.ByInput[string(pdf)]; ok {
		return text, nil
	}
	return e.Default, nil
}

// Calls reports how many extractions ran.
func (e *Extractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Index is a map-backed search.Index that matches on exact substrings.
type Index struct {
	Faults

	mu      sync.Mutex
	records map[string]models.SearchRecord
	upserts int
}

func NewIndex() *Index {
	return &Index{records: make(map[string]models.SearchRecord)}
}

func (i *Index) Upsert(ctx context.Context, rec models.SearchRecord) error {
	i.mu.Lock()
	i.upserts++
	i.mu.Unlock()
	if err := i.check("upsert"); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records[rec.DocumentID] = rec
	return nil
}

func (i *Index) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	if err := i.check("search"); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	hits := []models.SearchHit{}
	for _, r := range i.records {
		if query != "" && strings.Contains(r.OCRText, query) {
			hits = append(hits, models.SearchHit{DocumentID: r.DocumentID, OCRText: r.OCRText, Score: 1})
		}
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (i *Index) Delete(ctx context.Context, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.records, documentID)
	return nil
}

func (i *Index) Close() error { return nil }

// Record returns the indexed record for id.
func (i *Index) Record(id string) (models.SearchRecord, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	r, ok := i.records[id]
	return r, ok
}

// Upserts reports how many upserts were attempted.
func (i *Index) Upserts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.upserts
}

// Message is one captured publish.
type Message struct {
	Topic string
	Msg   any
}

// Publisher records published messages.
type Publisher struct {
	Faults

	mu       sync.Mutex
	messages []Message
}

func (p *Publisher) Publish(ctx context.Context, topic string, msg any) error {
	if err := p.check("publish"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Msg: msg})
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

var _ broker.Publisher = (*Publisher)(nil)
