package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

// DocumentRepository is a process-local backend for development and tests.
// Records are lost on restart.
type DocumentRepository struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[int64]domain.Document
	now    func() time.Time
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		docs: make(map[int64]domain.Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *DocumentRepository) Create(_ context.Context, filename, originalPath string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	doc := domain.Document{
		ID:           r.nextID,
		Filename:     filename,
		OriginalPath: originalPath,
		Status:       domain.StatusPending,
		CreatedAt:    r.now(),
	}
	r.docs[doc.ID] = doc
	return cloneDocument(doc), nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id int64) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.NotFoundError("get document", id)
	}
	return cloneDocument(doc), nil
}

func (r *DocumentRepository) List(context.Context) ([]domain.Document, error) {
	r.mu.RLock()
	out := make([]domain.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		out = append(out, *cloneDocument(doc))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *DocumentRepository) UpdateStatus(_ context.Context, id int64, update domain.StatusUpdate) (*domain.Document, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.NotFoundError("update status", id)
	}
	if !doc.Status.CanTransitionTo(update.Status) {
		return nil, domain.TransitionError(id, doc.Status, update.Status)
	}
	doc = update.Apply(doc)
	r.docs[id] = doc
	return cloneDocument(doc), nil
}

// cloneDocument detaches the optional fields so callers cannot mutate stored state.
func cloneDocument(doc domain.Document) *domain.Document {
	out := doc
	if doc.ExtractedText != nil {
		text := *doc.ExtractedText
		out.ExtractedText = &text
	}
	if doc.ConvertedPath != nil {
		path := *doc.ConvertedPath
		out.ConvertedPath = &path
	}
	return &out
}
