// Package repotest holds the behaviour every DocumentRepository backend must share.
package repotest

import (
	"context"
	"sync"
	"testing"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

// Run exercises newRepo against the repository contract. newRepo must return
// an empty repository for each call.
func Run(t *testing.T, newRepo func(t *testing.T) ports.DocumentRepository) {
	t.Helper()

	t.Run("CreateAllocatesIncreasingIDs", func(t *testing.T) { testCreate(t, newRepo(t)) })
	t.Run("GetByIDUnknown", func(t *testing.T) { testGetUnknown(t, newRepo(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testList(t, newRepo(t)) })
	t.Run("CompletedLifecycle", func(t *testing.T) { testCompleted(t, newRepo(t)) })
	t.Run("FailedLifecycle", func(t *testing.T) { testFailed(t, newRepo(t)) })
	t.Run("RejectsInvalidTransitions", func(t *testing.T) { testInvalidTransitions(t, newRepo(t)) })
	t.Run("RejectsIncompleteResult", func(t *testing.T) { testIncompleteResult(t, newRepo(t)) })
	t.Run("UpdateUnknown", func(t *testing.T) { testUpdateUnknown(t, newRepo(t)) })
	t.Run("ConcurrentCreates", func(t *testing.T) { testConcurrentCreates(t, newRepo(t)) })
	t.Run("ConcurrentTerminalUpdates", func(t *testing.T) { testConcurrentTerminal(t, newRepo(t)) })
}

func mustCreate(t *testing.T, repo ports.DocumentRepository, name string) *domain.Document {
	t.Helper()
	doc, err := repo.Create(context.Background(), name, "/uploads/"+name)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	return doc
}

func mustUpdate(t *testing.T, repo ports.DocumentRepository, id int64, update domain.StatusUpdate) *domain.Document {
	t.Helper()
	doc, err := repo.UpdateStatus(context.Background(), id, update)
	if err != nil {
		t.Fatalf("UpdateStatus(%d, %s) error = %v", id, update.Status, err)
	}
	return doc
}

func completedUpdate(text, path string) domain.StatusUpdate {
	return domain.StatusUpdate{Status: domain.StatusCompleted, ExtractedText: &text, ConvertedPath: &path}
}

func testCreate(t *testing.T, repo ports.DocumentRepository) {
	first := mustCreate(t, repo, "a.png")
	second := mustCreate(t, repo, "b.pdf")

	if first.ID <= 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing positive ids, got %d then %d", first.ID, second.ID)
	}
	if first.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}
	if first.ExtractedText != nil || first.ConvertedPath != nil {
		t.Fatalf("new record must not carry results")
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("expected createdAt to be set")
	}

	got, err := repo.GetByID(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Filename != "b.pdf" || got.OriginalPath != "/uploads/b.pdf" || got.Status != domain.StatusPending {
		t.Fatalf("unexpected stored record %+v", got)
	}
	if !got.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("createdAt changed on read: %s vs %s", got.CreatedAt, second.CreatedAt)
	}
}

func testGetUnknown(t *testing.T, repo ports.DocumentRepository) {
	_, err := repo.GetByID(context.Background(), 999)
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func testList(t *testing.T, repo ports.DocumentRepository) {
	empty, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", empty)
	}

	a := mustCreate(t, repo, "a.png")
	b := mustCreate(t, repo, "b.png")
	c := mustCreate(t, repo, "c.png")
	mustUpdate(t, repo, b.ID, domain.StatusUpdate{Status: domain.StatusProcessing})

	docs, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	if docs[0].ID != c.ID || docs[1].ID != b.ID || docs[2].ID != a.ID {
		t.Fatalf("expected newest first, got ids %d,%d,%d", docs[0].ID, docs[1].ID, docs[2].ID)
	}
	if docs[1].Status != domain.StatusProcessing {
		t.Fatalf("expected listed status to reflect update, got %s", docs[1].Status)
	}
}

func testCompleted(t *testing.T, repo ports.DocumentRepository) {
	doc := mustCreate(t, repo, "scan.png")

	processing := mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})
	if processing.Status != domain.StatusProcessing || processing.ExtractedText != nil {
		t.Fatalf("unexpected processing record %+v", processing)
	}

	completed := mustUpdate(t, repo, doc.ID, completedUpdate("hello world", "/converted/doc.docx"))
	if completed.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	got, err := repo.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ExtractedText == nil || *got.ExtractedText != "hello world" {
		t.Fatalf("unexpected extracted text %v", got.ExtractedText)
	}
	if got.ConvertedPath == nil || *got.ConvertedPath != "/converted/doc.docx" {
		t.Fatalf("unexpected converted path %v", got.ConvertedPath)
	}
	if got.Filename != "scan.png" || got.OriginalPath != "/uploads/scan.png" {
		t.Fatalf("identity fields changed: %+v", got)
	}
}

func testFailed(t *testing.T, repo ports.DocumentRepository) {
	doc := mustCreate(t, repo, "scan.png")
	mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})
	failed := mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusFailed})

	if failed.Status != domain.StatusFailed || failed.ExtractedText != nil || failed.ConvertedPath != nil {
		t.Fatalf("unexpected failed record %+v", failed)
	}
}

func testInvalidTransitions(t *testing.T, repo ports.DocumentRepository) {
	ctx := context.Background()
	doc := mustCreate(t, repo, "scan.png")

	for _, update := range []domain.StatusUpdate{
		{Status: domain.StatusFailed},
		completedUpdate("x", "/y"),
		{Status: domain.StatusPending},
	} {
		if _, err := repo.UpdateStatus(ctx, doc.ID, update); !domain.IsKind(err, domain.ErrInvalidTransition) {
			t.Fatalf("pending -> %s: expected ErrInvalidTransition, got %v", update.Status, err)
		}
	}

	mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})
	if _, err := repo.UpdateStatus(ctx, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing}); !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("processing -> processing: expected ErrInvalidTransition, got %v", err)
	}

	mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusFailed})
	for _, update := range []domain.StatusUpdate{
		{Status: domain.StatusProcessing},
		completedUpdate("x", "/y"),
		{Status: domain.StatusFailed},
	} {
		if _, err := repo.UpdateStatus(ctx, doc.ID, update); !domain.IsKind(err, domain.ErrInvalidTransition) {
			t.Fatalf("failed -> %s: expected ErrInvalidTransition, got %v", update.Status, err)
		}
	}

	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("terminal status changed to %s", got.Status)
	}
}

func testIncompleteResult(t *testing.T, repo ports.DocumentRepository) {
	doc := mustCreate(t, repo, "scan.png")
	mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})

	_, err := repo.UpdateStatus(context.Background(), doc.ID, completedUpdate("", "/converted/doc.docx"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	got, _ := repo.GetByID(context.Background(), doc.ID)
	if got.Status != domain.StatusProcessing {
		t.Fatalf("rejected update must not change status, got %s", got.Status)
	}
}

func testUpdateUnknown(t *testing.T, repo ports.DocumentRepository) {
	_, err := repo.UpdateStatus(context.Background(), 12345, domain.StatusUpdate{Status: domain.StatusProcessing})
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func testConcurrentCreates(t *testing.T, repo ports.DocumentRepository) {
	const n = 25
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := repo.Create(context.Background(), "scan.png", "/uploads/scan.png")
			if err != nil {
				t.Errorf("Create() error = %v", err)
				return
			}
			ids <- doc.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}

func testConcurrentTerminal(t *testing.T, repo ports.DocumentRepository) {
	doc := mustCreate(t, repo, "scan.png")
	mustUpdate(t, repo, doc.ID, domain.StatusUpdate{Status: domain.StatusProcessing})

	updates := []domain.StatusUpdate{
		completedUpdate("text", "/converted/doc.docx"),
		{Status: domain.StatusFailed},
		completedUpdate("other", "/converted/other.docx"),
		{Status: domain.StatusFailed},
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for _, update := range updates {
		wg.Add(1)
		go func(update domain.StatusUpdate) {
			defer wg.Done()
			_, err := repo.UpdateStatus(context.Background(), doc.ID, update)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case domain.IsKind(err, domain.ErrInvalidTransition):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(update)
	}
	wg.Wait()

	if winners != 1 || conflicts != len(updates)-1 {
		t.Fatalf("expected exactly one terminal update, got %d winners and %d conflicts", winners, conflicts)
	}
}
