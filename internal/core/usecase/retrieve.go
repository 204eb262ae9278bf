package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
)

const unknownFilename = "Unknown file"

const (
	defaultTopK      = 8
	defaultThreshold = 0.3
)

type RetrieveUseCase struct {
	embedder  ports.Embedder
	chunks    ports.ChunkStore
	repo      ports.DocumentRepository
	topK      int
	threshold float64
}

func NewRetrieveUseCase(
	embedder ports.Embedder,
	chunks ports.ChunkStore,
	repo ports.DocumentRepository,
	defaults domain.RetrievalOptions,
) *RetrieveUseCase {
	topK := defaults.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &RetrieveUseCase{
		embedder:  embedder,
		chunks:    chunks,
		repo:      repo,
		topK:      topK,
		threshold: thresholdOr(defaults.Threshold, defaultThreshold),
	}
}

func thresholdOr(v *float64, fallback float64) float64 {
	if v == nil || *v < 0 {
		return fallback
	}
	return min(*v, 1)
}

// Retrieve returns the owner's chunks most similar to query, highest first.
// An empty result means no grounding was found and is not an error.
func (uc *RetrieveUseCase) Retrieve(ctx context.Context, ownerID, query string, opts domain.RetrievalOptions) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is empty"))
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = uc.topK
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := uc.chunks.Search(ctx, domain.VectorQuery{
		OwnerID:     ownerID,
		Embedding:   queryVector,
		Threshold:   thresholdOr(opts.Threshold, uc.threshold),
		Limit:       topK,
		DocumentIDs: opts.DocumentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if len(scored) == 0 {
		return []domain.RetrievedChunk{}, nil
	}

	filenames, err := uc.repo.FilenamesByIDs(ctx, ownerID, distinctDocumentIDs(scored))
	if err != nil {
		return nil, fmt.Errorf("resolve filenames: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(scored))
	for _, item := range scored {
		filename, ok := filenames[item.Chunk.DocumentID]
		if !ok || filename == "" {
			filename = unknownFilename
		}
		out = append(out, domain.RetrievedChunk{
			DocumentID: item.Chunk.DocumentID,
			Filename:   filename,
			Content:    item.Chunk.Content,
			PageNumber: item.Chunk.PageNumber,
			ChunkIndex: item.Chunk.ChunkIndex,
			Similarity: item.Similarity,
		})
	}
	return out, nil
}

func distinctDocumentIDs(scored []domain.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(scored))
	ids := make([]string, 0, len(scored))
	for _, item := range scored {
		if _, ok := seen[item.Chunk.DocumentID]; ok {
			continue
		}
		seen[item.Chunk.DocumentID] = struct{}{}
		ids = append(ids, item.Chunk.DocumentID)
	}
	return ids
}
