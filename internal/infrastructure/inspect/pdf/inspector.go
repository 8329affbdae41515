package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

var errNoPages = errors.New("pdf has no pages")

// Inspector rejects uploads declared as application/pdf that do not parse or
// have no pages. Other content types pass through untouched.
type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

func (Inspector) Inspect(_ context.Context, contentType string, data []byte) error {
	if !domain.IsPDF(contentType) {
		return nil
	}
	pages, err := countPages(data)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "inspect pdf", err)
	}
	if pages < 1 {
		return domain.WrapError(domain.ErrInvalidInput, "inspect pdf", errNoPages)
	}
	return nil
}

// countPages recovers from parser panics, which malformed files can trigger.
func countPages(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}
