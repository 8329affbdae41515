package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/doc-ocr/internal/core/domain"
)

// ArtifactOpener opens converted files at the paths recorded by the worker. Only
// files inside root are served.
type ArtifactOpener struct {
	root string
}

func NewArtifactOpener(root string) (*ArtifactOpener, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	return &ArtifactOpener{root: abs}, nil
}

func (o *ArtifactOpener) Open(_ context.Context, path string) (*domain.Artifact, error) {
	if !o.contains(path) {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open artifact",
			fmt.Errorf("%s is outside %s", path, o.root))
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "open artifact", err)
		}
		return nil, domain.WrapError(domain.ErrStorage, "open artifact", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, domain.WrapError(domain.ErrStorage, "stat artifact", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open artifact", fmt.Errorf("%s is a directory", path))
	}

	return &domain.Artifact{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Content: f,
	}, nil
}

func (o *ArtifactOpener) contains(path string) bool {
	if !filepath.IsAbs(path) {
		return false
	}
	rel, err := filepath.Rel(o.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
