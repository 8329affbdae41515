package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
	"github.com/kirillkom/doc-ocr/internal/core/ports"
)

const (
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var artifactContentTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain; charset=utf-8",
	".pdf":  "application/pdf",
}

// UploadObserver records accepted upload sizes.
type UploadObserver interface {
	ObserveUpload(size int64)
}

type Options struct {
	MaxUploadBytes int64
	Logger         *slog.Logger
	Uploads        UploadObserver
	// Middleware wraps the mux inside the request id and access log layers.
	Middleware func(http.Handler) http.Handler
}

type Router struct {
	ingestor  ports.DocumentIngestor
	reader    ports.DocumentReader
	artifacts ports.ArtifactProvider
	exporter  ports.DocumentExporter
	opts      Options
	logger    *slog.Logger
}

func NewRouter(
	ingestor ports.DocumentIngestor,
	reader ports.DocumentReader,
	artifacts ports.ArtifactProvider,
	exporter ports.DocumentExporter,
	opts Options,
) *Router {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = domain.DefaultMaxUploadBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		ingestor:  ingestor,
		reader:    reader,
		artifacts: artifacts,
		exporter:  exporter,
		opts:      opts,
		logger:    logger,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /api/openapi.yaml", rt.openAPISpec)
	mux.HandleFunc("GET /api/documents", rt.listDocuments)
	mux.HandleFunc("POST /api/documents", rt.uploadDocument)
	mux.HandleFunc("GET /api/documents/export", rt.exportDocuments)
	mux.HandleFunc("GET /api/documents/{id}", rt.getDocument)
	mux.HandleFunc("GET /api/documents/{id}/download", rt.downloadDocument)

	var handler http.Handler = mux
	if rt.opts.Middleware != nil {
		handler = rt.opts.Middleware(handler)
	}
	return requestIDMiddleware(accessLogMiddleware(rt.logger, handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) openAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := rt.reader.List(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.MaxUploadBytes+multipartOverhead)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			err = fmt.Errorf("file exceeds the %d byte limit", rt.opts.MaxUploadBytes)
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			err = errors.New("multipart field 'file' is required")
		}
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "parse upload", err))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()
	}

	doc, err := rt.ingestor.Upload(r.Context(), domain.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
	}, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.opts.Uploads != nil {
		rt.opts.Uploads.ObserveUpload(fileHeader.Size)
	}

	w.Header().Set("Location", "/api/documents/"+strconv.FormatInt(doc.ID, 10))
	writeJSON(w, http.StatusCreated, doc)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	doc, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) downloadDocument(w http.ResponseWriter, r *http.Request) {
	id, err := documentID(r)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	artifact, err := rt.artifacts.Artifact(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	defer artifact.Content.Close()

	w.Header().Set("Content-Type", artifactContentType(artifact.DownloadName))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.DownloadName}))
	http.ServeContent(w, r, artifact.DownloadName, artifact.ModTime, artifact.Content)
}

func (rt *Router) exportDocuments(w http.ResponseWriter, r *http.Request) {
	raw, err := rt.exporter.ExportXLSX(r.Context())
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	name := fmt.Sprintf("documents_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(raw)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// documentID binds the {id} path segment as a simple-style int64 parameter.
func documentID(r *http.Request) (int64, error) {
	var id int64
	err := runtime.BindStyledParameterWithOptions("simple", "id", r.PathValue("id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "parse document id", err)
	}
	return id, nil
}

func artifactContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := artifactContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type errorResponse struct {
	Message string `json:"message"`
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	writeJSON(w, status, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
