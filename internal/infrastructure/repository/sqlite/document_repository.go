package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

const documentColumns = `id, filename, original_path, status, extracted_text, converted_path, created_at`

// DocumentRepository keeps jobs in an embedded SQLite file. created_at is
// stored as unix nanoseconds so ordering never depends on text formatting.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// OpenDB opens path with a single connection; SQLite allows one writer and the
// status guard relies on that serialization. ":memory:" is accepted for tests.
func OpenDB(path string) (*sql.DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	original_path TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	extracted_text TEXT,
	converted_path TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC, id DESC);
`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, filename, originalPath string) (*domain.Document, error) {
	doc := domain.Document{
		Filename:     filename,
		OriginalPath: originalPath,
		Status:       domain.StatusPending,
		CreatedAt:    r.now(),
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (filename, original_path, status, created_at) VALUES (?, ?, ?, ?)`,
		filename, originalPath, string(doc.Status), doc.CreatedAt.UnixNano())
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "insert document", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "insert document", err)
	}
	doc.ID = id
	return &doc, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	doc, err := getByID(ctx, r.db, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("get document", id)
		}
		return nil, domain.WrapError(domain.ErrStorage, "get document", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) List(ctx context.Context) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list documents", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStorage, "scan document", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "iterate documents", err)
	}
	return out, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id int64, update domain.StatusUpdate) (*domain.Document, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "begin status tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := getByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("update status", id)
		}
		return nil, domain.WrapError(domain.ErrStorage, "read document status", err)
	}
	if !current.Status.CanTransitionTo(update.Status) {
		return nil, domain.TransitionError(id, current.Status, update.Status)
	}

	next := update.Apply(current)
	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET status = ?, extracted_text = ?, converted_path = ? WHERE id = ?`,
		string(next.Status), nullable(next.ExtractedText), nullable(next.ConvertedPath), id)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "update document status", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "commit status tx", err)
	}
	return &next, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getByID(ctx context.Context, q queryer, id int64) (domain.Document, error) {
	return scanDocument(q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc       domain.Document
		status    string
		text      sql.NullString
		converted sql.NullString
		created   int64
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.OriginalPath, &status, &text, &converted, &created); err != nil {
		return domain.Document{}, err
	}

	parsed, ok := domain.ParseDocumentStatus(status)
	if !ok {
		return domain.Document{}, fmt.Errorf("unknown status %q for id=%d", status, doc.ID)
	}
	doc.Status = parsed
	if text.Valid {
		doc.ExtractedText = &text.String
	}
	if converted.Valid {
		doc.ConvertedPath = &converted.String
	}
	doc.CreatedAt = time.Unix(0, created).UTC()
	return doc, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
