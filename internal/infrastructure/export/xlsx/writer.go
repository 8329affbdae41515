package xlsx

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

const (
	sheetName       = "Documents"
	excerptRunes    = 500
	timestampFormat = "2006-01-02 15:04:05"
)

var headers = []string{"ID", "Filename", "Status", "Created At (UTC)", "Converted Path", "Extracted Text"}

// Writer renders the job list into a single-sheet workbook, one row per job in
// the order given.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

func (Writer) WriteDocuments(docs []domain.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	for i, doc := range docs {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		write(1, doc.ID)
		write(2, doc.Filename)
		write(3, string(doc.Status))
		write(4, doc.CreatedAt.UTC().Format(timestampFormat))
		write(5, deref(doc.ConvertedPath))
		write(6, excerpt(deref(doc.ExtractedText), excerptRunes))
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "B", 32)
	_ = f.SetColWidth(sheetName, "C", "C", 12)
	_ = f.SetColWidth(sheetName, "D", "D", 20)
	_ = f.SetColWidth(sheetName, "E", "E", 48)
	_ = f.SetColWidth(sheetName, "F", "F", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
