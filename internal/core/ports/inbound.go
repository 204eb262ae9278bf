package ports

import (
	"context"
	"io"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Ingest(ctx context.Context, ownerID, filename string, body io.Reader) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, ownerID, documentID string) error
}

// DocumentService is the inbound read/delete model for documents.
type DocumentService interface {
	List(ctx context.Context, ownerID string) ([]domain.Document, error)
	Get(ctx context.Context, ownerID, id string) (*domain.Document, error)
	// Open returns the stored PDF. The caller closes the reader.
	Open(ctx context.Context, ownerID, id string) (io.ReadCloser, *domain.Document, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// ChatService answers questions from the owner's documents.
type ChatService interface {
	Answer(ctx context.Context, req domain.ChatRequest) (*domain.ChatAnswer, error)
	AnswerStream(ctx context.Context, req domain.ChatRequest) (*ChatStream, error)
}

// ChatStream carries the sources of a streamed answer together with its token stream.
type ChatStream struct {
	Sources []domain.Source
	Model   string
	Tokens  TokenStream
}
