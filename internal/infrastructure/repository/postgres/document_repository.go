package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

const documentColumns = `id, filename, original_path, status, extracted_text, converted_path, created_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL when several replicas start at once.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	filename TEXT NOT NULL,
	original_path TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	extracted_text TEXT,
	converted_path TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC, id DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
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
	err := r.db.QueryRowContext(ctx, `
INSERT INTO documents (filename, original_path, status, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id
`, filename, originalPath, string(doc.Status), doc.CreatedAt).Scan(&doc.ID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "insert document", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
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

// UpdateStatus applies the update in one statement guarded by the allowed
// predecessor statuses. When no row matches, a follow-up read tells a missing
// job apart from a refused transition.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id int64, update domain.StatusUpdate) (*domain.Document, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	from := domain.Predecessors(update.Status)
	if len(from) == 0 {
		return nil, domain.TransitionError(id, "", update.Status)
	}

	args := []any{id, string(update.Status), update.ExtractedText, update.ConvertedPath}
	placeholders := make([]string, 0, len(from))
	for _, status := range from {
		args = append(args, string(status))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	row := r.db.QueryRowContext(ctx, `
UPDATE documents
SET status = $2,
	extracted_text = COALESCE($3, extracted_text),
	converted_path = COALESCE($4, converted_path)
WHERE id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
RETURNING `+documentColumns, args...)

	doc, err := scanDocument(row)
	if err == nil {
		return &doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, domain.WrapError(domain.ErrStorage, "update document status", err)
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFoundError("update status", id)
		}
		return nil, domain.WrapError(domain.ErrStorage, "read document status", err)
	}
	return nil, domain.TransitionError(id, domain.DocumentStatus(current), update.Status)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var status string
	var text, converted sql.NullString

	if err := row.Scan(&doc.ID, &doc.Filename, &doc.OriginalPath, &status, &text, &converted, &doc.CreatedAt); err != nil {
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
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, nil
}
