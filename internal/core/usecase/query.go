package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

type DocumentQueryUseCase struct {
	repo ports.DocumentRepository
}

func NewDocumentQueryUseCase(repo ports.DocumentRepository) *DocumentQueryUseCase {
	return &DocumentQueryUseCase{repo: repo}
}

// List returns every job, newest first.
func (uc *DocumentQueryUseCase) List(ctx context.Context) ([]domain.Document, error) {
	docs, err := uc.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	return docs, nil
}

func (uc *DocumentQueryUseCase) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}
