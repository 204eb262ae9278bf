package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/usecase"
)

type chatRequest struct {
	Query               string               `json:"query"`
	DocumentIDs         []string             `json:"document_ids"`
	ConversationHistory []domain.ChatMessage `json:"conversation_history"`
}

func (rt *Router) decodeChatRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	owner, ok := rt.requireOwner(w, r)
	if !ok {
		return domain.ChatRequest{}, false
	}

	var body chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return domain.ChatRequest{}, false
	}
	query := strings.TrimSpace(body.Query)
	if query == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return domain.ChatRequest{}, false
	}
	if utf8.RuneCountInString(query) > maxQueryChars {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("query must be under %d characters", maxQueryChars)})
		return domain.ChatRequest{}, false
	}

	return domain.ChatRequest{
		OwnerID:     owner,
		Query:       query,
		DocumentIDs: body.DocumentIDs,
		History:     body.ConversationHistory,
	}, true
}

func (rt *Router) chatAnswer(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeChatRequest(w, r)
	if !ok {
		return
	}
	started := time.Now()

	answer, err := rt.chat.Answer(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	rt.observeRAG("chat", answer.Sources, answer.Model, req.Query, answer.Answer, started)
	writeJSON(w, http.StatusOK, answer)
}

type tokenFrame struct {
	Token string `json:"token"`
}

type doneFrame struct {
	Done    bool            `json:"done"`
	Sources []domain.Source `json:"sources"`
	Model   string          `json:"model"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// chatStream answers with Server-Sent Events: token frames, then a done frame
// with sources, or an error frame. Failures before the first byte use a JSON status.
func (rt *Router) chatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := rt.decodeChatRequest(w, r)
	if !ok {
		return
	}
	started := time.Now()

	stream, err := rt.chat.AnswerStream(r.Context(), req)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.WarnContext(r.Context(), "sse_write_deadline_unset", "error", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var completion strings.Builder
	err = usecase.ForwardStream(r.Context(), stream, func(ev domain.StreamEvent) error {
		var frame any
		switch {
		case ev.Err != nil:
			frame = errorFrame{Error: publicErrorMessage(mapErrorToHTTPStatus(ev.Err), ev.Err)}
		case ev.Done:
			sources := ev.Sources
			if sources == nil {
				sources = []domain.Source{}
			}
			frame = doneFrame{Done: true, Sources: sources, Model: ev.Model}
		default:
			completion.WriteString(ev.Token)
			frame = tokenFrame{Token: ev.Token}
		}
		if err := writeSSE(w, frame); err != nil {
			return err
		}
		return rc.Flush()
	})

	outcome := "done"
	switch {
	case err == nil:
		rt.observeRAG("chat_stream", stream.Sources, stream.Model, req.Query, completion.String(), started)
	case r.Context().Err() != nil:
		outcome = "disconnected"
		slog.InfoContext(r.Context(), "sse_client_disconnected", "request_id", requestIDFromContext(r.Context()))
	default:
		outcome = "error"
		slog.WarnContext(r.Context(), "sse_stream_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	if rt.metrics != nil {
		rt.metrics.RecordStreamOutcome(serviceName, outcome)
	}
}

func writeSSE(w http.ResponseWriter, frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
