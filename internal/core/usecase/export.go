package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

type ExportUseCase struct {
	repo   ports.DocumentRepository
	writer ports.SpreadsheetWriter
	logger *slog.Logger
}

func NewExportUseCase(repo ports.DocumentRepository, writer ports.SpreadsheetWriter, logger *slog.Logger) *ExportUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportUseCase{repo: repo, writer: writer, logger: logger}
}

func (uc *ExportUseCase) ExportXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()
	docs, err := uc.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	raw, err := uc.writer.WriteDocuments(docs)
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	uc.logger.Info("export_xlsx_ok", "rows", len(docs), "elapsed_ms", time.Since(start).Milliseconds())
	return raw, nil
}
