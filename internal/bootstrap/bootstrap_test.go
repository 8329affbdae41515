package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/doc-ocr/internal/config"
	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

const fakeWorker = `#!/bin/sh
printf 'converted:%s' "$(cat "$1")" > "$2"
printf '{"status":"completed","extractedText":"hello world","convertedPath":"%s"}' "$2"
`

// strayWorker reports a result file outside the converted directory.
const strayWorker = `#!/bin/sh
stray="$(dirname "$(dirname "$2")")/stray.docx"
printf 'stray' > "$stray"
printf '{"status":"completed","extractedText":"hello world","convertedPath":"%s"}' "$stray"
`

func newTestApp(t *testing.T, workerScript string) *App {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(script, []byte(workerScript), 0o755); err != nil {
		t.Fatalf("write worker: %v", err)
	}

	cfg := config.Config{
		StorageBackend:    config.BackendMemory,
		UploadDir:         filepath.Join(dir, "uploads"),
		ConvertedDir:      filepath.Join(dir, "converted"),
		MaxUploadBytes:    1 << 20,
		WorkerCommand:     "/bin/sh " + script,
		WorkerTimeout:     10 * time.Second,
		ArtifactExtension: ".docx",
		ShutdownTimeout:   5 * time.Second,
	}
	app, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func upload(t *testing.T, handler http.Handler, filename, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(body)
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func waitTerminal(t *testing.T, handler http.Handler, id string) domain.Document {
	t.Helper()
	var doc domain.Document
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/"+id, nil))
		if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if doc.Status.IsTerminal() {
			return doc
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not finish, last status %s", doc.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUploadProcessDownload(t *testing.T) {
	app := newTestApp(t, fakeWorker)
	handler := app.Handler()

	rec := upload(t, handler, "scan.png", "image/png", []byte("pixels"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != domain.StatusProcessing {
		t.Fatalf("expected processing in upload response, got %s", created.Status)
	}

	doc := waitTerminal(t, handler, "1")
	if doc.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
	if doc.ExtractedText == nil || *doc.ExtractedText != "hello world" {
		t.Fatalf("unexpected extracted text %v", doc.ExtractedText)
	}
	if doc.ConvertedPath == nil || !strings.HasSuffix(*doc.ConvertedPath, "doc_1.docx") {
		t.Fatalf("unexpected converted path %v", doc.ConvertedPath)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/1/download", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "converted:pixels" {
		t.Fatalf("unexpected artifact %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "scan.png.docx") {
		t.Fatalf("unexpected disposition %q", got)
	}

	rec = httptest.NewRecorder()
	app.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "dococr_worker_process_total") {
		t.Fatalf("expected worker metrics exposed")
	}
}

func TestDownloadRefusesArtifactOutsideConvertedDir(t *testing.T) {
	app := newTestApp(t, strayWorker)
	handler := app.Handler()

	if rec := upload(t, handler, "scan.png", "image/png", []byte("pixels")); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if doc := waitTerminal(t, handler, "1"); doc.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/1/download", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for stray artifact, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadRejectedWithoutRecord(t *testing.T) {
	app := newTestApp(t, fakeWorker)
	handler := app.Handler()

	rec := upload(t, handler, "notes.txt", "text/plain", []byte("hello"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected no records, got %s", rec.Body.String())
	}
}

func TestNewRejectsEmptyWorkerCommand(t *testing.T) {
	dir := t.TempDir()
	_, err := New(context.Background(), config.Config{
		StorageBackend: config.BackendMemory,
		UploadDir:      filepath.Join(dir, "uploads"),
		ConvertedDir:   filepath.Join(dir, "converted"),
		WorkerCommand:  "  ",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatalf("expected error for empty worker command")
	}
}
