package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Lllllllleong/paperlessflow/internal/blobstore"
	"github.com/Lllllllleong/paperlessflow/internal/documents"
	"github.com/Lllllllleong/paperlessflow/internal/ingest"
	"github.com/Lllllllleong/paperlessflow/internal/models"
)

// Submitter accepts uploads into the pipeline.
type Submitter interface {
	Submit(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

// Searcher answers text queries with metadata-joined results.
type Searcher interface {
	SearchDocuments(ctx context.Context, query string) ([]models.DocumentSearchResult, error)
}

// Store reads and deletes stored documents.
type Store interface {
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context) ([]models.Document, error)
	Download(ctx context.Context, id string) (models.Document, blobstore.Object, error)
	Delete(ctx context.Context, id string) error
}

var _ Store = (*documents.Service)(nil)

// DocumentHandler serves /api/documents.
type DocumentHandler struct {
	ingest   Submitter
	docs     Store
	search   Searcher
	maxBytes int64
}

// NewDocumentHandler caps uploads at maxBytes.
func NewDocumentHandler(ingest Submitter, docs Store, search Searcher, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &DocumentHandler{ingest: ingest, docs: docs, search: search, maxBytes: maxBytes}
}

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	ID string `json:"id"`
}

// Upload accepts a multipart "file" field and submits it for OCR, answering
// 201 with the new document id.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	id, err := h.ingest.Submit(r.Context(), data, header.Filename, mediaType(header.Header.Get("Content-Type")))
	if err != nil {
		if ingest.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Upload failed.", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store document")
		return
	}
	w.Header().Set("Location", "/api/documents/"+id)
	writeJSON(w, http.StatusCreated, UploadResponse{ID: id})
}

// List returns every document record.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		h.internalError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Get returns one document record, or 404.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		h.lookupError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Download streams the stored PDF as an attachment.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	doc, obj, err := h.docs.Download(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		h.lookupError(w, "download document", err)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

// Delete removes a document, its blob and, when configured, its index entry.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), chi.URLParam(r, "documentId")); err != nil {
		h.lookupError(w, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search runs a full-text query over extracted text.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := h.search.SearchDocuments(r.Context(), query)
	if err != nil {
		h.internalError(w, "search documents", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *DocumentHandler) lookupError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, documents.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	h.internalError(w, op, err)
}

func (h *DocumentHandler) internalError(w http.ResponseWriter, op string, err error) {
	slog.Error("Request failed.", "operation", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return v
	}
	return mt
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
