package memory

import (
	"context"
	"testing"

	"github.com/kirillkom/doc-ocr/internal/core/ports"
	"github.com/kirillkom/doc-ocr/internal/infrastructure/repository/repotest"
)

func TestDocumentRepositoryContract(t *testing.T) {
	repotest.Run(t, func(*testing.T) ports.DocumentRepository {
		return NewDocumentRepository()
	})
}

func TestReturnedRecordsAreDetached(t *testing.T) {
	repo := NewDocumentRepository()
	ctx := context.Background()
	doc, _ := repo.Create(ctx, "a.png", "/uploads/a.png")
	doc.Filename = "mutated"

	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Filename != "a.png" {
		t.Fatalf("stored record was mutated through a returned pointer")
	}
}
