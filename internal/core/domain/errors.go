package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrInvalidTransition = errors.New("invalid document status transition")
	ErrMisconfigured     = errors.New("misconfiguration")

	ErrParseFailure         = errors.New("pdf parse failure")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	ErrVectorStore          = errors.New("vector store failure")
	ErrModelUnavailable     = errors.New("language model unavailable")
)

// ErrNoExtractableText is a ParseFailure raised for scanned or image-only PDFs.
var ErrNoExtractableText = fmt.Errorf("%w: no extractable text", ErrParseFailure)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
