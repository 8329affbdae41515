package ports

import (
	"context"
	"io"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

// DocumentIngestor is the inbound contract for upload validation and hand-off.
type DocumentIngestor interface {
	Upload(ctx context.Context, upload domain.Upload, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for job state.
type DocumentReader interface {
	List(ctx context.Context) ([]domain.Document, error)
	GetByID(ctx context.Context, id int64) (*domain.Document, error)
}

// DocumentProcessor starts recognition for a freshly created job.
type DocumentProcessor interface {
	// Accepting is checked before a record is created so a draining processor
	// does not leave new records behind.
	Accepting() bool
	Run(ctx context.Context, doc *domain.Document, inputPath, outputPath string) (*domain.Document, error)
}

// ArtifactProvider resolves the converted file of a completed job.
type ArtifactProvider interface {
	Artifact(ctx context.Context, id int64) (*domain.Artifact, error)
}

// DocumentExporter renders the job list as a spreadsheet.
type DocumentExporter interface {
	ExportXLSX(ctx context.Context) ([]byte, error)
}
