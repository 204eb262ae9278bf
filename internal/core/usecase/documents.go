package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

type DocumentUseCase struct {
	repo    ports.DocumentRepository
	chunks  ports.ChunkStore
	storage ports.ObjectStorage
}

func NewDocumentUseCase(repo ports.DocumentRepository, chunks ports.ChunkStore, storage ports.ObjectStorage) *DocumentUseCase {
	return &DocumentUseCase{repo: repo, chunks: chunks, storage: storage}
}

func (uc *DocumentUseCase) List(ctx context.Context, ownerID string) ([]domain.Document, error) {
	docs, err := uc.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (uc *DocumentUseCase) Get(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get document", errors.New("document id is empty"))
	}
	return uc.repo.GetByID(ctx, ownerID, id)
}

func (uc *DocumentUseCase) Open(ctx context.Context, ownerID, id string) (io.ReadCloser, *domain.Document, error) {
	doc, err := uc.Get(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := uc.storage.Open(ctx, doc.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open document file: %w", err)
	}
	return rc, doc, nil
}

// Delete removes the document with its chunks, then the stored blob on a best-effort basis.
func (uc *DocumentUseCase) Delete(ctx context.Context, ownerID, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete document", errors.New("document id is empty"))
	}
	storagePath, err := uc.chunks.DeleteDocument(ctx, ownerID, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if storagePath == "" {
		return nil
	}
	if err := uc.storage.Delete(ctx, storagePath); err != nil {
		slog.WarnContext(ctx, "document_blob_cleanup_failed", "document_id", id, "storage_path", storagePath, "error", err)
	}
	return nil
}
