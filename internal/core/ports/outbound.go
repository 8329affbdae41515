package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

// DocumentRepository persists job records. Every backend must behave identically:
// ids are allocated on Create, List is newest-first, and UpdateStatus is atomic
// and only accepts lifecycle transitions.
type DocumentRepository interface {
	Create(ctx context.Context, filename, originalPath string) (*domain.Document, error)
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	UpdateStatus(ctx context.Context, id int64, update domain.StatusUpdate) (*domain.Document, error)
}

// ObjectStorage stores uploaded originals on the local filesystem.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (string, error)
	Path(key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactOpener opens converted files written by the worker. A missing file is
// reported as domain.ErrDocumentNotFound.
type ArtifactOpener interface {
	Open(ctx context.Context, path string) (*domain.Artifact, error)
}

// UploadInspector checks that the bytes really are what the content type claims.
type UploadInspector interface {
	Inspect(ctx context.Context, contentType string, data []byte) error
}

// WorkerLauncher spawns the external recognition process.
type WorkerLauncher interface {
	Start(ctx context.Context, inputPath, outputPath string) (WorkerProcess, error)
}

// WorkerProcess is a spawned recognition process.
type WorkerProcess interface {
	PID() int
	// Wait blocks until exit and returns the captured streams.
	Wait() domain.WorkerExit
}

// WorkerResultDecoder parses worker stdout into a structured result.
type WorkerResultDecoder interface {
	Decode(stdout []byte) (domain.WorkerResult, error)
}

// StatusPublisher broadcasts persisted transitions to other systems.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}

// ProcessObserver receives worker lifecycle measurements.
type ProcessObserver interface {
	WorkerStarted(lagSinceCreate time.Duration)
	WorkerFinished(status domain.DocumentStatus, duration time.Duration)
}

// SpreadsheetWriter renders documents into an XLSX workbook.
type SpreadsheetWriter interface {
	WriteDocuments(docs []domain.Document) ([]byte, error)
}
