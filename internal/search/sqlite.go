package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// schema is idempotent so the index survives restarts. The FTS table is an
// external-content table over documents, kept in sync by triggers.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	document_id TEXT PRIMARY KEY,
	ocr_text TEXT NOT NULL,
	indexed_at TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	ocr_text,
	content='documents',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
	INSERT INTO documents_fts(rowid, ocr_text) VALUES (new.rowid, new.ocr_text);
END;

CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, ocr_text) VALUES ('delete', old.rowid, old.ocr_text);
END;

CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE ON documents BEGIN
	INSERT INTO documents_fts(documents_fts, rowid, ocr_text) VALUES ('delete', old.rowid, old.ocr_text);
	INSERT INTO documents_fts(rowid, ocr_text) VALUES (new.rowid, new.ocr_text);
END;
`

// SQLiteIndex is an embedded FTS5 index for single-node deployments.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (creating if needed) the index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create search schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	// One writer at a time; readers share the same connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

// Upsert inserts or overwrites the record for rec.DocumentID.
func (s *SQLiteIndex) Upsert(ctx context.Context, rec models.SearchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (document_id, ocr_text, indexed_at) VALUES (?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET ocr_text = excluded.ocr_text, indexed_at = excluded.indexed_at`,
		rec.DocumentID, rec.OCRText, rec.IndexedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert search record %s: %w", rec.DocumentID, err)
	}
	return nil
}

// Search matches every query term (as a prefix) and ranks by bm25.
func (s *SQLiteIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	query = sanitizeQuery(query)
	if query == "" {
		return []models.SearchHit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT d.document_id, d.ocr_text, documents_fts.rank
		 FROM documents_fts
		 JOIN documents d ON d.rowid = documents_fts.rowid
		 WHERE documents_fts MATCH ?
		 ORDER BY documents_fts.rank
		 LIMIT ?`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]models.SearchHit, 0)
	for rows.Next() {
		var h models.SearchHit
		var rank float64
		if err := rows.Scan(&h.DocumentID, &h.OCRText, &rank); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		// bm25 is lower-is-better; flip it so scores read like Elasticsearch's.
		h.Score = -rank
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return hits, nil
}

// Delete removes the record for documentID.
func (s *SQLiteIndex) Delete(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("delete search record %s: %w", documentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// sanitizeQuery turns free text into an FTS5 query of quoted prefix terms so
// user input can never be parsed as FTS5 syntax.
func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range q {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	var terms []string
	for _, t := range strings.Fields(b.String()) {
		switch strings.ToUpper(t) {
		case "AND", "OR", "NOT", "NEAR":
			continue
		}
		terms = append(terms, `"`+t+`"*`)
	}
	return strings.Join(terms, " ")
}
