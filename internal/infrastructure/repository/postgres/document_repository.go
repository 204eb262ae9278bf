package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const documentColumns = `id, owner_id, filename, storage_path, status, total_pages, total_chunks, error_message, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	var (
		pages, chunks int
		errMessage    string
	)
	switch s := doc.State.(type) {
	case domain.Ready:
		pages, chunks = s.TotalPages, s.TotalChunks
	case domain.Failed:
		errMessage = s.Message
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.OwnerID, doc.Filename, doc.StoragePath, string(doc.Status()),
		pages, chunks, errMessage, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "insert document", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1 AND owner_id = $2
`, id, ownerID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, domain.WrapError(domain.ErrVectorStore, "get document", err)
	}
	return doc, nil
}

func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE owner_id = $1
ORDER BY created_at DESC
`, ownerID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "list documents", err)
	}
	defer rows.Close()

	docs := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrVectorStore, "list documents", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "list documents", err)
	}
	return docs, nil
}

func (r *DocumentRepository) MarkReady(ctx context.Context, ownerID, id string, totalPages, totalChunks int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = 'ready', total_pages = $3, total_chunks = $4, error_message = '', updated_at = $5
WHERE id = $1 AND owner_id = $2 AND status = 'processing'
`, id, ownerID, totalPages, totalChunks, r.now())
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "mark document ready", err)
	}
	return r.checkTransition(ctx, res, ownerID, id, domain.StatusReady)
}

func (r *DocumentRepository) MarkFailed(ctx context.Context, ownerID, id, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = 'error', error_message = $3, updated_at = $4
WHERE id = $1 AND owner_id = $2 AND status = 'processing'
`, id, ownerID, errMessage, r.now())
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "mark document failed", err)
	}
	return r.checkTransition(ctx, res, ownerID, id, domain.StatusError)
}

// checkTransition tells a missing document apart from one that already left processing.
func (r *DocumentRepository) checkTransition(ctx context.Context, res sql.Result, ownerID, id string, to domain.DocumentStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "document transition", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1 AND owner_id = $2`, id, ownerID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrDocumentNotFound, "document transition", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return domain.WrapError(domain.ErrVectorStore, "document transition", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "document transition",
		fmt.Errorf("id=%s from=%s to=%s", id, current, to))
}

func (r *DocumentRepository) FilenamesByIDs(ctx context.Context, ownerID string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, filename
FROM documents
WHERE owner_id = $1 AND id = ANY($2)
`, ownerID, ids)
	if err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "lookup filenames", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, domain.WrapError(domain.ErrVectorStore, "lookup filenames", err)
		}
		out[id] = filename
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrVectorStore, "lookup filenames", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var (
		doc                domain.Document
		status, errMessage string
		totalPages, chunks int
	)
	err := row.Scan(
		&doc.ID, &doc.OwnerID, &doc.Filename, &doc.StoragePath, &status,
		&totalPages, &chunks, &errMessage, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state, err := domain.StateFromRecord(status, totalPages, chunks, errMessage)
	if err != nil {
		return nil, err
	}
	doc.State = state
	return &doc, nil
}
