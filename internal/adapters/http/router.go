package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/config"
	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/observability/metrics"
)

const (
	serviceName         = "api"
	maxQueryChars       = 5000
	multipartOverhead   = 1 << 20
	backpressureTimeout = 250 * time.Millisecond
)

type Router struct {
	ingest    ports.DocumentIngestor
	documents ports.DocumentService
	chat      ports.ChatService
	metrics   *metrics.HTTPServerMetrics

	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
}

func NewRouter(
	cfg config.Config,
	ingest ports.DocumentIngestor,
	documents ports.DocumentService,
	chat ports.ChatService,
) *Router {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	return &Router{
		ingest:         ingest,
		documents:      documents,
		chat:           chat,
		maxUploadBytes: maxUpload,
		rateLimitRPS:   cfg.RateLimitRPS,
		rateLimitBurst: cfg.RateLimitBurst,
		maxInFlight:    cfg.MaxInFlight,
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/documents", rt.uploadDocument)
	mux.HandleFunc("GET /v1/documents", rt.listDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /v1/documents/{id}/file", rt.downloadDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", rt.deleteDocument)
	mux.HandleFunc("POST /v1/chat", rt.chatAnswer)
	mux.HandleFunc("POST /v1/chat/stream", rt.chatStream)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, backpressureTimeout)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerID reads the caller identity set by the upstream auth layer.
func ownerID(r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	return owner, owner != ""
}

func (rt *Router) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := ownerID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + ownerIDHeader + " header"})
	}
	return owner, ok
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: publicErrorMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (rt *Router) observeRAG(endpoint string, sources []domain.Source, model, prompt, completion string, started time.Time) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordRAGObservation(serviceName, endpoint, len(sources), time.Since(started))
	rt.metrics.RecordTokenUsage(serviceName, endpoint, model, len(strings.Fields(prompt)), len(strings.Fields(completion)))
}
