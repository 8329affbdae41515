package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

var fixedNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewDocumentRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock, func() { _ = db.Close() }
}

func documentRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "filename", "original_path", "status", "extracted_text", "converted_path", "created_at"})
}

func TestCreateReturnsPendingRecordWithAllocatedID(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("scan.png", "/uploads/x_scan.png", "pending", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	doc, err := repo.Create(context.Background(), "scan.png", "/uploads/x_scan.png")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if doc.ID != 42 || doc.Status != domain.StatusPending || !doc.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.ExtractedText != nil || doc.ConvertedPath != nil {
		t.Fatalf("pending record must not carry results")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWrapsStorageError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("INSERT INTO documents").WillReturnError(errors.New("connection refused"))

	_, err := repo.Create(context.Background(), "scan.png", "/uploads/scan.png")
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename, original_path").
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 404)
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansNullableResults(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename, original_path").
		WithArgs(int64(1)).
		WillReturnRows(documentRows().AddRow(int64(1), "a.png", "/uploads/a.png", "completed", "hello", "/converted/doc_1.docx", fixedNow))

	doc, err := repo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Status != domain.StatusCompleted || *doc.ExtractedText != "hello" || *doc.ConvertedPath != "/converted/doc_1.docx" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestGetByIDRejectsUnknownStoredStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename, original_path").
		WithArgs(int64(1)).
		WillReturnRows(documentRows().AddRow(int64(1), "a.png", "/uploads/a.png", "archived", nil, nil, fixedNow))

	_, err := repo.GetByID(context.Background(), 1)
	if !domain.IsKind(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
		WillReturnRows(documentRows().
			AddRow(int64(2), "b.png", "/uploads/b.png", "pending", nil, nil, fixedNow).
			AddRow(int64(1), "a.png", "/uploads/a.png", "failed", nil, nil, fixedNow.Add(-time.Minute)))

	docs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != 2 || docs[1].Status != domain.StatusFailed {
		t.Fatalf("unexpected list %+v", docs)
	}
}

func TestListEmptyIsNotNil(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, filename").WillReturnRows(documentRows())

	docs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", docs)
	}
}

func TestUpdateStatusGuardsPredecessor(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	text := "hello"
	path := "/converted/doc_3.docx"
	mock.ExpectQuery(`UPDATE documents`).
		WithArgs(int64(3), "completed", sqlmock.AnyArg(), sqlmock.AnyArg(), "processing").
		WillReturnRows(documentRows().AddRow(int64(3), "c.png", "/uploads/c.png", "completed", text, path, fixedNow))

	doc, err := repo.UpdateStatus(context.Background(), 3, domain.StatusUpdate{
		Status:        domain.StatusCompleted,
		ExtractedText: &text,
		ConvertedPath: &path,
	})
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if doc.Status != domain.StatusCompleted || *doc.ConvertedPath != path {
		t.Fatalf("unexpected document %+v", doc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsMatch(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE documents").
		WithArgs(int64(9), "processing", sqlmock.AnyArg(), sqlmock.AnyArg(), "pending").
		WillReturnRows(documentRows())
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), 9, domain.StatusUpdate{Status: domain.StatusProcessing})
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusRejectsTransitionOutOfTerminal(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("UPDATE documents").
		WithArgs(int64(5), "failed", sqlmock.AnyArg(), sqlmock.AnyArg(), "processing").
		WillReturnRows(documentRows())
	mock.ExpectQuery("SELECT status FROM documents").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	_, err := repo.UpdateStatus(context.Background(), 5, domain.StatusUpdate{Status: domain.StatusFailed})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateStatusValidatesBeforeQuerying(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	empty := ""
	_, err := repo.UpdateStatus(context.Background(), 1, domain.StatusUpdate{
		Status:        domain.StatusCompleted,
		ExtractedText: &empty,
		ConvertedPath: &empty,
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = repo.UpdateStatus(context.Background(), 1, domain.StatusUpdate{Status: domain.StatusPending})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
