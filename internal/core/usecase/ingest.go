package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

const (
	IngestModeSync  = "sync"
	IngestModeAsync = "async"

	DefaultMaxUploadBytes = 50 << 20
)

var pdfMagic = []byte("%PDF-")

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	processor *ProcessDocumentUseCase

	mode     string
	maxBytes int64
	newID    func() string
	now      func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	processor *ProcessDocumentUseCase,
	mode string,
	maxBytes int64,
) *IngestDocumentUseCase {
	if mode != IngestModeAsync {
		mode = IngestModeSync
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &IngestDocumentUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		processor: processor,
		mode:      mode,
		maxBytes:  maxBytes,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores the upload and creates a processing document before any parsing.
// In sync mode the returned document is terminal; in async mode it is still
// processing and the worker finishes it.
func (uc *IngestDocumentUseCase) Ingest(ctx context.Context, ownerID, filename string, body io.Reader) (*domain.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.WrapError(domain.ErrUnauthorized, "ingest document", errors.New("missing owner"))
	}
	data, err := uc.readUpload(body)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "document.pdf"
	}

	id := uc.newID()
	storageKey := fmt.Sprintf("%s/%s_%s", sanitizeFilename(ownerID), id, sanitizeFilename(name))

	if err := uc.storage.Save(ctx, storageKey, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := domain.NewProcessingDocument(id, ownerID, name, storageKey, uc.now())
	if err := uc.repo.Create(ctx, doc); err != nil {
		uc.discardBlob(ctx, storageKey)
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if uc.mode == IngestModeAsync && uc.queue != nil {
		return uc.enqueue(ctx, doc)
	}
	return uc.processor.Process(ctx, doc)
}

func (uc *IngestDocumentUseCase) enqueue(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	err := uc.queue.PublishIngestJob(ctx, ports.IngestJob{OwnerID: doc.OwnerID, DocumentID: doc.ID})
	if err == nil {
		return doc, nil
	}

	statusCtx, cancel := detachedContext(ctx)
	defer cancel()
	if markErr := uc.repo.MarkFailed(statusCtx, doc.OwnerID, doc.ID, "Failed to queue document for processing: "+err.Error()); markErr != nil {
		slog.WarnContext(ctx, "ingest_enqueue_mark_failed", "document_id", doc.ID, "error", markErr)
	}
	return nil, fmt.Errorf("publish ingest job: %w", err)
}

func (uc *IngestDocumentUseCase) readUpload(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("no file provided"))
	}
	data, err := io.ReadAll(io.LimitReader(body, uc.maxBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	switch {
	case len(data) == 0:
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("file is empty"))
	case int64(len(data)) > uc.maxBytes:
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", fmt.Errorf("file exceeds %d bytes", uc.maxBytes))
	case !bytes.HasPrefix(data, pdfMagic):
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("only PDF files are accepted"))
	}
	return data, nil
}

func (uc *IngestDocumentUseCase) discardBlob(ctx context.Context, key string) {
	cleanupCtx, cancel := detachedContext(ctx)
	defer cancel()
	if err := uc.storage.Delete(cleanupCtx, key); err != nil {
		slog.WarnContext(ctx, "ingest_blob_cleanup_failed", "storage_path", key, "error", err)
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.pdf"
	}
	return base
}
