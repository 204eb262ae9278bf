package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

var errNoMeaningfulText = errors.New("no meaningful text extracted from PDF")

const statusUpdateTimeout = 10 * time.Second

type ProcessDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	parser   ports.PDFParser
	chunker  ports.Chunker
	embedder ports.Embedder
	chunks   ports.ChunkStore

	insertBatchSize int
	newID           func() string
	now             func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	parser ports.PDFParser,
	chunker ports.Chunker,
	embedder ports.Embedder,
	chunks ports.ChunkStore,
	insertBatchSize int,
) *ProcessDocumentUseCase {
	if insertBatchSize <= 0 {
		insertBatchSize = 50
	}
	return &ProcessDocumentUseCase{
		repo:            repo,
		storage:         storage,
		parser:          parser,
		chunker:         chunker,
		embedder:        embedder,
		chunks:          chunks,
		insertBatchSize: insertBatchSize,
		newID:           uuid.NewString,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ProcessByID is the worker entry point. Documents that already reached a
// terminal state are skipped so redelivered jobs are harmless.
func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, ownerID, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, ownerID, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status() != domain.StatusProcessing {
		slog.InfoContext(ctx, "ingest_skipped", "document_id", doc.ID, "status", doc.Status())
		return nil
	}
	_, err = uc.Process(ctx, doc)
	return err
}

// Process drives a processing document to ready or error. Pipeline failures are
// recorded on the document; only a failed status update is returned as an error.
func (uc *ProcessDocumentUseCase) Process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	start := time.Now()
	slog.InfoContext(ctx, "ingest_started", "document_id", doc.ID, "owner_id", doc.OwnerID, "filename", doc.Filename)

	ready, inserted, err := uc.runPipeline(ctx, doc)
	if err == nil {
		err = uc.markReady(ctx, doc, ready)
		if err == nil {
			slog.InfoContext(ctx, "ingest_completed",
				"document_id", doc.ID,
				"total_pages", ready.TotalPages,
				"total_chunks", ready.TotalChunks,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return doc, nil
		}
		if domain.IsKind(err, domain.ErrInvalidTransition) || domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
	}

	if inserted {
		uc.cleanupChunks(ctx, doc.ID)
	}
	message := failureMessage(err)
	slog.WarnContext(ctx, "ingest_failed", "document_id", doc.ID, "error", err, "message", message)
	if markErr := uc.markFailed(ctx, doc, message); markErr != nil {
		return nil, fmt.Errorf("%w; mark failed status: %v", err, markErr)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) runPipeline(ctx context.Context, doc *domain.Document) (domain.Ready, bool, error) {
	data, err := uc.loadSource(ctx, doc)
	if err != nil {
		return domain.Ready{}, false, err
	}

	parsed, err := uc.parse(ctx, data)
	if err != nil {
		return domain.Ready{}, false, err
	}

	chunks, err := uc.chunk(doc, parsed)
	if err != nil {
		return domain.Ready{}, false, err
	}

	if err := uc.embed(ctx, chunks); err != nil {
		return domain.Ready{}, false, err
	}

	if err := uc.index(ctx, chunks); err != nil {
		return domain.Ready{}, true, err
	}

	return domain.Ready{TotalPages: parsed.TotalPages, TotalChunks: len(chunks)}, true, nil
}

func (uc *ProcessDocumentUseCase) loadSource(ctx context.Context, doc *domain.Document) ([]byte, error) {
	reader, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	return data, nil
}

func (uc *ProcessDocumentUseCase) parse(ctx context.Context, data []byte) (*domain.ParsedPDF, error) {
	parsed, err := uc.parser.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	if parsed.TotalPages < len(parsed.Pages) {
		parsed.TotalPages = len(parsed.Pages)
	}
	return parsed, nil
}

// chunk assigns a document-wide chunk index while walking pages in order.
func (uc *ProcessDocumentUseCase) chunk(doc *domain.Document, parsed *domain.ParsedPDF) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, page := range parsed.Pages {
		for _, content := range uc.chunker.SplitPage(page.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:         uc.newID(),
				DocumentID: doc.ID,
				OwnerID:    doc.OwnerID,
				Content:    content,
				PageNumber: page.Number,
				ChunkIndex: len(chunks),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, errNoMeaningfulText
	}
	return chunks, nil
}

func (uc *ProcessDocumentUseCase) embed(ctx context.Context, chunks []domain.Chunk) error {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	vectors, err := uc.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return domain.WrapError(
			domain.ErrEmbeddingUnavailable,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return nil
}

func (uc *ProcessDocumentUseCase) index(ctx context.Context, chunks []domain.Chunk) error {
	for start := 0; start < len(chunks); start += uc.insertBatchSize {
		end := start + uc.insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := uc.chunks.InsertChunks(ctx, chunks[start:end]); err != nil {
			return fmt.Errorf("insert chunk batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (uc *ProcessDocumentUseCase) markReady(ctx context.Context, doc *domain.Document, ready domain.Ready) error {
	statusCtx, cancel := detachedContext(ctx)
	defer cancel()

	if err := uc.repo.MarkReady(statusCtx, doc.OwnerID, doc.ID, ready.TotalPages, ready.TotalChunks); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return doc.Transition(ready, uc.now())
}

func (uc *ProcessDocumentUseCase) markFailed(ctx context.Context, doc *domain.Document, message string) error {
	statusCtx, cancel := detachedContext(ctx)
	defer cancel()

	if err := uc.repo.MarkFailed(statusCtx, doc.OwnerID, doc.ID, message); err != nil {
		return err
	}
	return doc.Transition(domain.Failed{Message: message}, uc.now())
}

func (uc *ProcessDocumentUseCase) cleanupChunks(ctx context.Context, documentID string) {
	cleanupCtx, cancel := detachedContext(ctx)
	defer cancel()

	if err := uc.chunks.DeleteChunks(cleanupCtx, documentID); err != nil {
		slog.WarnContext(ctx, "ingest_cleanup_failed", "document_id", documentID, "error", err)
	}
}

// detachedContext survives cancellation of the pipeline so terminal states still get written.
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
}

func failureMessage(err error) string {
	switch {
	case err == nil:
		return "unknown ingestion failure"
	case errors.Is(err, domain.ErrNoExtractableText):
		return "Text extraction failed: the PDF appears to be scanned or image-based and has no extractable text. OCR is not supported."
	case errors.Is(err, domain.ErrParseFailure):
		return "Failed to parse PDF: " + err.Error()
	case errors.Is(err, errNoMeaningfulText):
		return "Text extraction failed: no meaningful text extracted from PDF."
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "Embedding service unavailable: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Processing timed out: " + err.Error()
	default:
		return err.Error()
	}
}
