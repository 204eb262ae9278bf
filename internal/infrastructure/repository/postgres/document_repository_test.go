package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/pdf-study-assistant/internal/core/domain"
)

// arrayConverter lets string slices through the way the pgx driver does.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

var documentRowColumns = []string{"id", "owner_id", "filename", "storage_path", "status", "total_pages", "total_chunks", "error_message", "created_at", "updated_at"}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("FROM documents").
		WithArgs("missing", "u-1").
		WillReturnError(sql.ErrNoRows)

	_, err := NewDocumentRepository(db).GetByID(context.Background(), "u-1", "missing")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDRebuildsState(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("FROM documents").
		WithArgs("d-1", "u-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d-1", "u-1", "bio.pdf", "u-1/d-1.pdf", "ready", 3, 7, "", now, now))

	doc, err := NewDocumentRepository(db).GetByID(context.Background(), "u-1", "d-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	ready, ok := doc.State.(domain.Ready)
	if !ok || ready.TotalPages != 3 || ready.TotalChunks != 7 {
		t.Fatalf("unexpected state %#v", doc.State)
	}
}

func TestListByOwnerReturnsEmptySlice(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("WHERE owner_id = \\$1").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns))

	docs, err := NewDocumentRepository(db).ListByOwner(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", docs)
	}
}

func TestMarkReadyOnTerminalDocumentIsInvalidTransition(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("d-1", "u-1", 3, 9, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("d-1", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("error"))

	err := NewDocumentRepository(db).MarkReady(context.Background(), "u-1", "d-1", 3, 9)
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkFailedReturnsDomainNotFoundWhenNoRows(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectExec("UPDATE documents").
		WithArgs("missing", "u-1", "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs("missing", "u-1").
		WillReturnError(sql.ErrNoRows)

	err := NewDocumentRepository(db).MarkFailed(context.Background(), "u-1", "missing", "boom")
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestMarkReadyUpdatesProcessingDocument(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectExec("status = 'processing'").
		WithArgs("d-1", "u-1", 3, 9, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewDocumentRepository(db).MarkReady(context.Background(), "u-1", "d-1", 3, 9); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFilenamesByIDsUsesSingleQuery(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectQuery("id = ANY").
		WithArgs("u-1", []string{"d-1", "d-2"}).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename"}).AddRow("d-1", "bio.pdf"))

	names, err := NewDocumentRepository(db).FilenamesByIDs(context.Background(), "u-1", []string{"d-1", "d-2"})
	if err != nil {
		t.Fatalf("FilenamesByIDs() error = %v", err)
	}
	if names["d-1"] != "bio.pdf" || len(names) != 1 {
		t.Fatalf("unexpected names %v", names)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaUsesConfiguredDimension(t *testing.T) {
	db, mock, done := newMockDB(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`vector\(384\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db, 384); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
