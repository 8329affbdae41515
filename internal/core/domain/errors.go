package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrStorage           = errors.New("storage unavailable")
	ErrWorkerFailure     = errors.New("worker failure")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTemporary         = errors.New("temporary failure")
)

var errIncompleteResult = errors.New("completed status requires extracted text and converted path")

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// TransitionError builds the error returned when a backend refuses from -> to.
func TransitionError(id int64, from, to DocumentStatus) error {
	return WrapError(ErrInvalidTransition, "update status", fmt.Errorf("id=%d %s -> %s", id, from, to))
}

func NotFoundError(operation string, id int64) error {
	return WrapError(ErrDocumentNotFound, operation, fmt.Errorf("id=%d", id))
}

func errUnknownStatus(s DocumentStatus) error {
	return fmt.Errorf("unknown status %q", s)
}

func errResultOnNonCompleted(s DocumentStatus) error {
	return fmt.Errorf("extracted text and converted path are only set on completed, got %q", s)
}
