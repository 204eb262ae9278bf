package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

func TestInsertChunksUsesSingleTransaction(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO document_chunks")
	prep.ExpectExec().
		WithArgs("c-1", "d-1", "u-1", "first", 1, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c-2", "d-1", "u-1", "second", 2, 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewChunkStore(db).InsertChunks(context.Background(), []domain.Chunk{
		{ID: "c-1", DocumentID: "d-1", OwnerID: "u-1", Content: "first", PageNumber: 1, ChunkIndex: 0, Embedding: []float32{0.1, 0.2}},
		{ID: "c-2", DocumentID: "d-1", OwnerID: "u-1", Content: "second", PageNumber: 2, ChunkIndex: 1, Embedding: []float32{0.3, 0.4}},
	})
	if err != nil {
		t.Fatalf("InsertChunks() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertChunksRollsBackOnFailure(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO document_chunks")
	prep.ExpectExec().WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := NewChunkStore(db).InsertChunks(context.Background(), []domain.Chunk{
		{ID: "c-1", DocumentID: "d-1", OwnerID: "u-1", Content: "first", PageNumber: 1, Embedding: []float32{0.1}},
	})
	if !domain.IsKind(err, domain.ErrVectorStore) {
		t.Fatalf("expected ErrVectorStore, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchFiltersByOwnerThresholdAndDocuments(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "document_id", "owner_id", "content", "page_number", "chunk_index", "similarity"}).
		AddRow("c-2", "d-1", "u-1", "mitochondria", 2, 3, 0.91).
		AddRow("c-1", "d-1", "u-1", "cells", 1, 0, 0.55)
	mock.ExpectQuery(`d.status = 'ready'(.|\n)*document_id = ANY\(\$4\)(.|\n)*LIMIT \$5`).
		WithArgs(sqlmock.AnyArg(), "u-1", 0.3, []string{"d-1"}, 8).
		WillReturnRows(rows)

	got, err := NewChunkStore(db).Search(context.Background(), domain.VectorQuery{
		OwnerID:     "u-1",
		Embedding:   []float32{0.1, 0.2},
		Threshold:   0.3,
		Limit:       8,
		DocumentIDs: []string{"d-1"},
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].Chunk.PageNumber != 2 || got[0].Similarity != 0.91 {
		t.Fatalf("unexpected results %#v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSearchWithoutDocumentFilter(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery(`LIMIT \$4`).
		WithArgs(sqlmock.AnyArg(), "u-1", 0.3, 8).
		WillReturnRows(sqlmock.NewRows([]string{"id", "document_id", "owner_id", "content", "page_number", "chunk_index", "similarity"}))

	got, err := NewChunkStore(db).Search(context.Background(), domain.VectorQuery{
		OwnerID: "u-1", Embedding: []float32{0.1}, Threshold: 0.3, Limit: 8,
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty slice, got %#v", got)
	}
}

func TestDeleteDocumentReturnsStoragePath(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM document_chunks").WithArgs("d-1", "u-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery("DELETE FROM documents").WithArgs("d-1", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"storage_path"}).AddRow("u-1/d-1.pdf"))
	mock.ExpectCommit()

	path, err := NewChunkStore(db).DeleteDocument(context.Background(), "u-1", "d-1")
	if err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if path != "u-1/d-1.pdf" {
		t.Fatalf("unexpected storage path %q", path)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteDocumentNotFoundRollsBack(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM document_chunks").WithArgs("missing", "u-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DELETE FROM documents").WithArgs("missing", "u-1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewChunkStore(db).DeleteDocument(context.Background(), "u-1", "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
