package xlsx

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

func TestWriteDocuments(t *testing.T) {
	text := "Invoice 42\nTotal: 100"
	path := "/converted/doc_2.docx"
	docs := []domain.Document{
		{ID: 2, Filename: "invoice.pdf", Status: domain.StatusCompleted, ExtractedText: &text, ConvertedPath: &path,
			CreatedAt: time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)},
		{ID: 1, Filename: "photo.png", Status: domain.StatusFailed,
			CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)},
	}

	raw, err := NewWriter().WriteDocuments(docs)
	if err != nil {
		t.Fatalf("WriteDocuments() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[0][5] != "Extracted Text" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "2" || rows[1][1] != "invoice.pdf" || rows[1][2] != "completed" || rows[1][3] != "2026-10-16 09:30:00" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[1][4] != path || rows[1][5] != text {
		t.Fatalf("unexpected result columns %v", rows[1])
	}
	if rows[2][2] != "failed" {
		t.Fatalf("unexpected second row %v", rows[2])
	}
}

func TestWriteDocumentsEmptyHasHeaderOnly(t *testing.T) {
	raw, err := NewWriter().WriteDocuments(nil)
	if err != nil {
		t.Fatalf("WriteDocuments() error = %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(sheetName)
	if len(rows) != 1 {
		t.Fatalf("expected only the header row, got %d", len(rows))
	}
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("я", excerptRunes+10)
	got := excerpt(long, excerptRunes)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != excerptRunes+1 {
		t.Fatalf("unexpected excerpt length %d", len([]rune(got)))
	}
	if excerpt("  short  ", excerptRunes) != "short" {
		t.Fatalf("expected trimmed short text")
	}
}
