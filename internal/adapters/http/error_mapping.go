package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrParseFailure):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrEmbeddingUnavailable),
		domain.IsKind(err, domain.ErrModelUnavailable),
		domain.IsKind(err, domain.ErrVectorStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal details of server-side failures behind a stable phrase.
func publicErrorMessage(status int, err error) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	switch {
	case domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return "embedding service unavailable"
	case domain.IsKind(err, domain.ErrModelUnavailable):
		return "language model unavailable"
	case domain.IsKind(err, domain.ErrVectorStore):
		return "vector store unavailable"
	case status == http.StatusGatewayTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}
