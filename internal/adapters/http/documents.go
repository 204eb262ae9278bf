package httpadapter

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

type documentResponse struct {
	Message  string           `json:"message,omitempty"`
	Error    string           `json:"error,omitempty"`
	Document *domain.Document `json:"document"`
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes+multipartOverhead)
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "file size must be under 50MB"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	if !looksLikePDF(fileHeader.Filename, fileHeader.Header.Get("Content-Type")) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "only PDF files are accepted"})
		return
	}

	doc, err := rt.ingest.Ingest(r.Context(), owner, fileHeader.Filename, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordIngest(serviceName, string(doc.Status()))
	}

	switch doc.Status() {
	case domain.StatusReady:
		writeJSON(w, http.StatusCreated, documentResponse{Message: "Document processed successfully", Document: doc})
	case domain.StatusProcessing:
		writeJSON(w, http.StatusAccepted, documentResponse{Message: "Document queued for processing", Document: doc})
	default:
		message := ""
		if failed, ok := doc.State.(domain.Failed); ok {
			message = failed.Message
		}
		writeJSON(w, http.StatusUnprocessableEntity, documentResponse{Error: message, Document: doc})
	}
}

// looksLikePDF is a cheap early filter; the ingest use case still checks the magic bytes.
func looksLikePDF(filename, contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "application/pdf" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	docs, err := rt.documents.List(r.Context(), owner)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	doc, err := rt.documents.Get(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc})
}

// downloadDocument streams the stored PDF back for in-browser preview.
func (rt *Router) downloadDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	body, doc, err := rt.documents.Open(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if disposition := mime.FormatMediaType("inline", map[string]string{"filename": doc.Filename}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.WarnContext(r.Context(), "document_file_stream_failed", "document_id", doc.ID, "error", err)
	}
}

func (rt *Router) deleteDocument(w http.ResponseWriter, r *http.Request) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return
	}
	if err := rt.documents.Delete(r.Context(), owner, r.PathValue("id")); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}
