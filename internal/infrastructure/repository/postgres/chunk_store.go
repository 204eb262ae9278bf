package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

// ChunkStore keeps chunk embeddings in a pgvector column next to the documents table.
type ChunkStore struct {
	db *sql.DB
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// InsertChunks writes the whole batch in one transaction.
func (s *ChunkStore) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "insert chunks", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO document_chunks (id, document_id, owner_id, content, page_number, chunk_index, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`)
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "insert chunks", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return domain.WrapError(domain.ErrVectorStore, "insert chunks",
				fmt.Errorf("chunk %d of document %s has no embedding", chunk.ChunkIndex, chunk.DocumentID))
		}
		id := chunk.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx,
			id, chunk.DocumentID, chunk.OwnerID, chunk.Content, chunk.PageNumber, chunk.ChunkIndex,
			pgvector.NewVector(chunk.Embedding),
		); err != nil {
			return domain.WrapError(domain.ErrVectorStore, "insert chunks", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrVectorStore, "insert chunks", err)
	}
	return nil
}

// Search returns the owner's chunks of ready documents ordered by cosine similarity.
func (s *ChunkStore) Search(ctx context.Context, query domain.VectorQuery) ([]domain.ScoredChunk, error) {
	if len(query.Embedding) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search chunks", errors.New("empty query embedding"))
	}
	if query.Limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`
SELECT c.id, c.document_id, c.owner_id, c.content, c.page_number, c.chunk_index,
	1 - (c.embedding <=> $1) AS similarity
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
WHERE c.owner_id = $2
	AND d.status = 'ready'
	AND 1 - (c.embedding <=> $1) >= $3
`)
	args := []any{pgvector.NewVector(query.Embedding), query.OwnerID, query.Threshold}
	if len(query.DocumentIDs) > 0 {
		args = append(args, query.DocumentIDs)
		fmt.Fprintf(&sb, "\tAND c.document_id = ANY($%d)\n", len(args))
	}
	args = append(args, query.Limit)
	fmt.Fprintf(&sb, "ORDER BY c.embedding <=> $1, c.document_id, c.chunk_index\nLIMIT $%d\n", len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "search chunks", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredChunk, 0, query.Limit)
	for rows.Next() {
		var item domain.ScoredChunk
		if err := rows.Scan(
			&item.Chunk.ID, &item.Chunk.DocumentID, &item.Chunk.OwnerID, &item.Chunk.Content,
			&item.Chunk.PageNumber, &item.Chunk.ChunkIndex, &item.Similarity,
		); err != nil {
			return nil, domain.WrapError(domain.ErrVectorStore, "search chunks", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "search chunks", err)
	}
	return out, nil
}

// DeleteDocument removes the chunks and the document row together.
func (s *ChunkStore) DeleteDocument(ctx context.Context, ownerID, documentID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.WrapError(domain.ErrVectorStore, "delete document", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM document_chunks
WHERE document_id = $1 AND owner_id = $2
`, documentID, ownerID); err != nil {
		return "", domain.WrapError(domain.ErrVectorStore, "delete document", err)
	}

	var storagePath string
	err = tx.QueryRowContext(ctx, `
DELETE FROM documents
WHERE id = $1 AND owner_id = $2
RETURNING storage_path
`, documentID, ownerID).Scan(&storagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.WrapError(domain.ErrDocumentNotFound, "delete document", fmt.Errorf("id=%s", documentID))
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrVectorStore, "delete document", err)
	}

	if err := tx.Commit(); err != nil {
		return "", domain.WrapError(domain.ErrVectorStore, "delete document", err)
	}
	return storagePath, nil
}

func (s *ChunkStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return domain.WrapError(domain.ErrVectorStore, "delete chunks", err)
	}
	return nil
}
