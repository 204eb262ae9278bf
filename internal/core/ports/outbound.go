package ports

import (
	"context"
	"io"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
	MarkReady(ctx context.Context, ownerID, id string, totalPages, totalChunks int) error
	MarkFailed(ctx context.Context, ownerID, id, errMessage string) error
	FilenamesByIDs(ctx context.Context, ownerID string, ids []string) (map[string]string, error)
}

// ChunkStore persists chunk vectors and performs filtered similarity search.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []domain.Chunk) error
	Search(ctx context.Context, query domain.VectorQuery) ([]domain.ScoredChunk, error)
	// DeleteDocument removes a document with all its chunks and returns its storage path.
	DeleteDocument(ctx context.Context, ownerID, documentID string) (string, error)
	DeleteChunks(ctx context.Context, documentID string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// IngestJob identifies a stored document waiting for processing.
type IngestJob struct {
	OwnerID    string `json:"owner_id"`
	DocumentID string `json:"document_id"`
}

// MessageQueue publishes/consumes ingestion jobs.
type MessageQueue interface {
	PublishIngestJob(ctx context.Context, job IngestJob) error
	SubscribeIngestJobs(ctx context.Context, handler func(context.Context, IngestJob) error) error
}

// PDFParser turns raw PDF bytes into ordered page text.
type PDFParser interface {
	Parse(ctx context.Context, data []byte) (*domain.ParsedPDF, error)
}

// Chunker splits one page of text into overlapping chunks.
type Chunker interface {
	SplitPage(text string) []string
}

// EmbeddingProvider maps one text to a vector using an external model.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TokenStream is a single-consumer, forward-only sequence of text fragments.
// Recv returns io.EOF once the stream completed; Close releases the connection.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// LanguageModel completes chat message sequences.
type LanguageModel interface {
	Model() string
	Complete(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (string, error)
	CompleteStream(ctx context.Context, messages []domain.ChatMessage, params domain.CompletionParams) (TokenStream, error)
}
