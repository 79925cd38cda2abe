package models

import "time"

// These structs define the JSON payloads carried on the broker topics and
// returned by the search layer.

// ProcessingJob is published on the processing topic once per accepted upload.
type ProcessingJob struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
}

// OcrResult is published on the results topic once per completed OCR run.
type OcrResult struct {
	DocumentID string `json:"documentId"`
	OCRText    string `json:"ocrText"`
}

// SearchRecord is the index entry for one document. Re-indexing the same
// DocumentID overwrites the previous record.
type SearchRecord struct {
	DocumentID string    `json:"documentId"`
	OCRText    string    `json:"ocrText"`
	IndexedAt  time.Time `json:"@timestamp"`
}

// SearchHit is a single ranked match returned by the search index.
type SearchHit struct {
	DocumentID string  `json:"documentId"`
	OCRText    string  `json:"ocrText"`
	Score      float64 `json:"score"`
}

// DocumentSearchResult joins a hit back to its authoritative metadata record.
type DocumentSearchResult struct {
	Document
	OCRText string  `json:"ocrText"`
	Score   float64 `json:"score"`
}
