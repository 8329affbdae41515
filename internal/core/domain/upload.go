package domain

import (
	"mime"
	"strings"
)

const DefaultMaxUploadBytes int64 = 10 << 20

var acceptedUploadTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
	"image/tiff":      {},
	"image/bmp":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
}

// Upload is a single file received for ingestion.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
}

// NormalizeContentType strips parameters and lower-cases the media type.
func NormalizeContentType(raw string) string {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func IsAcceptedContentType(raw string) bool {
	_, ok := acceptedUploadTypes[NormalizeContentType(raw)]
	return ok
}

func IsPDF(raw string) bool {
	return NormalizeContentType(raw) == "application/pdf"
}
