package domain

import (
	"io"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// ParseDocumentStatus maps a stored or wire tag back onto the closed set of statuses.
func ParseDocumentStatus(raw string) (DocumentStatus, bool) {
	switch DocumentStatus(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return DocumentStatus(raw), true
	default:
		return "", false
	}
}

func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is an edge of
// pending -> processing -> {completed | failed}.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Predecessors returns the only statuses from which next may be entered.
func Predecessors(next DocumentStatus) []DocumentStatus {
	switch next {
	case StatusProcessing:
		return []DocumentStatus{StatusPending}
	case StatusCompleted, StatusFailed:
		return []DocumentStatus{StatusProcessing}
	default:
		return nil
	}
}

// Document is the job record tracking one uploaded scan through recognition.
type Document struct {
	ID            int64          `json:"id"`
	Filename      string         `json:"filename"`
	OriginalPath  string         `json:"originalPath"`
	Status        DocumentStatus `json:"status"`
	ExtractedText *string        `json:"extractedText"`
	ConvertedPath *string        `json:"convertedPath"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// StatusUpdate carries one atomic status replacement. Nil optionals leave the
// stored value untouched.
type StatusUpdate struct {
	Status        DocumentStatus
	ExtractedText *string
	ConvertedPath *string
}

// Validate enforces that the derived fields travel only with the completed transition.
func (u StatusUpdate) Validate() error {
	if _, ok := ParseDocumentStatus(string(u.Status)); !ok {
		return WrapError(ErrInvalidInput, "status update", errUnknownStatus(u.Status))
	}
	hasText := u.ExtractedText != nil
	hasPath := u.ConvertedPath != nil
	if u.Status == StatusCompleted {
		if !hasText || !hasPath || *u.ExtractedText == "" || *u.ConvertedPath == "" {
			return WrapError(ErrInvalidInput, "status update", errIncompleteResult)
		}
		return nil
	}
	if hasText || hasPath {
		return WrapError(ErrInvalidInput, "status update", errResultOnNonCompleted(u.Status))
	}
	return nil
}

// Apply returns a copy of doc with the update applied.
func (u StatusUpdate) Apply(doc Document) Document {
	out := doc
	out.Status = u.Status
	if u.ExtractedText != nil {
		text := *u.ExtractedText
		out.ExtractedText = &text
	}
	if u.ConvertedPath != nil {
		path := *u.ConvertedPath
		out.ConvertedPath = &path
	}
	return out
}

// StatusEvent is published after every persisted transition.
type StatusEvent struct {
	ID         int64          `json:"id"`
	Status     DocumentStatus `json:"status"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Artifact is an opened converted file. The caller owns Content and must close it.
type Artifact struct {
	DownloadName string
	Path         string
	Size         int64
	ModTime      time.Time
	Content      io.ReadSeekCloser
}
