package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

var errProcessorDraining = errors.New("not accepting new documents while shutting down")

type IngestOptions struct {
	MaxUploadBytes    int64
	ConvertedDir      string
	ArtifactExtension string
}

type IngestDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	inspector ports.UploadInspector
	processor ports.DocumentProcessor
	opts      IngestOptions
	logger    *slog.Logger
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	inspector ports.UploadInspector,
	processor ports.DocumentProcessor,
	opts IngestOptions,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	if opts.ArtifactExtension == "" {
		opts.ArtifactExtension = ".docx"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:      repo,
		storage:   storage,
		inspector: inspector,
		processor: processor,
		opts:      opts,
		logger:    logger,
	}
}

// Upload validates the file, stores it, records a pending job and hands it to the
// processor. It returns once the worker is spawned, not when it finishes.
func (uc *IngestDocumentUseCase) Upload(
	ctx context.Context,
	upload domain.Upload,
	body io.Reader,
) (*domain.Document, error) {
	data, err := uc.validate(ctx, upload, body)
	if err != nil {
		return nil, err
	}
	if !uc.processor.Accepting() {
		return nil, domain.WrapError(domain.ErrTemporary, "accept upload", errProcessorDraining)
	}

	storageKey := fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(upload.Filename))
	originalPath, err := uc.storage.Save(ctx, storageKey, bytes.NewReader(data))
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "save upload", err)
	}

	doc, err := uc.repo.Create(ctx, upload.Filename, originalPath)
	if err != nil {
		if delErr := uc.storage.Delete(ctx, storageKey); delErr != nil {
			uc.logger.Warn("upload_cleanup_failed", "key", storageKey, "error", delErr)
		}
		return nil, fmt.Errorf("create document record: %w", err)
	}

	outputPath := filepath.Join(uc.opts.ConvertedDir, fmt.Sprintf("doc_%d%s", doc.ID, uc.opts.ArtifactExtension))
	started, err := uc.processor.Run(ctx, doc, originalPath, outputPath)
	if err != nil {
		// The processor has already failed the record; the upload stays with it.
		uc.logger.Warn("document_handoff_failed", "job_id", doc.ID, "error", err)
		return nil, fmt.Errorf("start processing: %w", err)
	}

	uc.logger.Info("document_ingested",
		"job_id", started.ID,
		"filename", upload.Filename,
		"content_type", domain.NormalizeContentType(upload.ContentType),
		"bytes", len(data),
	)
	return started, nil
}

func (uc *IngestDocumentUseCase) validate(ctx context.Context, upload domain.Upload, body io.Reader) ([]byte, error) {
	if !domain.IsAcceptedContentType(upload.ContentType) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload",
			fmt.Errorf("unsupported content type %q: expected an image or application/pdf", upload.ContentType))
	}
	if upload.Size > uc.opts.MaxUploadBytes {
		return nil, tooLarge(uc.opts.MaxUploadBytes)
	}

	// The declared size is advisory; the body is the source of truth.
	data, err := io.ReadAll(io.LimitReader(body, uc.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "read upload", err)
	}
	if int64(len(data)) > uc.opts.MaxUploadBytes {
		return nil, tooLarge(uc.opts.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("file is empty"))
	}

	if uc.inspector != nil {
		if err := uc.inspector.Inspect(ctx, upload.ContentType, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return domain.WrapError(domain.ErrInvalidInput, "validate upload",
		fmt.Errorf("file exceeds the %d byte limit", limit))
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "document.bin"
	}
	return base
}
