package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

var (
	errArtifactNotReady = errors.New("document is not completed")
	errArtifactMissing  = errors.New("converted file is missing")
)

type ArtifactUseCase struct {
	repo      ports.DocumentRepository
	opener    ports.ArtifactOpener
	extension string
}

func NewArtifactUseCase(repo ports.DocumentRepository, opener ports.ArtifactOpener, extension string) *ArtifactUseCase {
	if extension == "" {
		extension = ".docx"
	}
	return &ArtifactUseCase{repo: repo, opener: opener, extension: extension}
}

// Artifact opens the converted file of a completed job. Every unmet precondition
// (unknown id, job still running or failed, file gone from disk) is reported as
// domain.ErrDocumentNotFound.
func (uc *ArtifactUseCase) Artifact(ctx context.Context, id int64) (*domain.Artifact, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc.Status != domain.StatusCompleted || doc.ConvertedPath == nil || *doc.ConvertedPath == "" {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "artifact",
			fmt.Errorf("id=%d status=%s: %w", id, doc.Status, errArtifactNotReady))
	}

	artifact, err := uc.opener.Open(ctx, *doc.ConvertedPath)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "artifact",
				fmt.Errorf("id=%d: %w", id, errArtifactMissing))
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	artifact.DownloadName = doc.Filename + uc.extension
	return artifact, nil
}
