// Package extract is the boundary to content-processing collaborators. The
// gateway classifies files and routes them; the actual codecs (PDF, Office,
// OCR, speech-to-text) live behind the Extractor interface so deployments
// can plug in their own services.
package extract

import (
	"context"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/filegate/service/internal/apperr"
)

// Kind classifies a file for routing and for the response envelope's type
// field.
type Kind string

const (
	KindText  Kind = "text"
	KindCode  Kind = "code"
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindOther Kind = "other"
)

// Result is the outcome of one extraction.
type Result struct {
	Kind Kind
	// Text is the extracted content; empty when the file carries no
	// extractable text (for example an image stored without OCR).
	Text string
	// Meta carries collaborator-specific detail (page counts, language).
	Meta map[string]string
}

// Extractor turns raw file bytes into text content.
type Extractor interface {
	Extract(ctx context.Context, filename, mimeType string, r io.Reader) (*Result, error)
}

var (
	textExts = map[string]bool{
		".txt": true, ".md": true, ".csv": true, ".json": true,
		".xml": true, ".yaml": true, ".yml": true, ".html": true,
	}
	codeExts = map[string]bool{
		".go": true, ".py": true, ".js": true, ".ts": true, ".java": true,
		".c": true, ".cpp": true, ".h": true, ".rs": true, ".rb": true,
		".sh": true, ".sql": true,
	}
	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".bmp": true, ".tiff": true,
	}
	audioExts = map[string]bool{
		".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true,
	}
)

// Classify maps a filename and declared MIME type to a Kind. Extension wins
// over MIME because browsers routinely send application/octet-stream.
func Classify(filename, mimeType string) Kind {
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case textExts[ext]:
		return KindText
	case codeExts[ext]:
		return KindCode
	case imageExts[ext]:
		return KindImage
	case audioExts[ext]:
		return KindAudio
	case ext == ".pdf":
		return KindPDF
	}
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		return KindText
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	case mimeType == "application/pdf":
		return KindPDF
	}
	return KindOther
}

// TextExtractor is the shipped default. It passes text and code files
// through verbatim and leaves binary kinds (image, audio, pdf) to the
// orchestrator's storage path; deployments with OCR or speech services
// replace it.
type TextExtractor struct {
	// MaxBytes caps how much is read; <=0 means unbounded.
	MaxBytes int64
}

func (e *TextExtractor) Extract(ctx context.Context, filename, mimeType string, r io.Reader) (*Result, error) {
	kind := Classify(filename, mimeType)
	switch kind {
	case KindText, KindCode:
	default:
		// Binary content: nothing to extract locally.
		return &Result{Kind: kind}, nil
	}

	if e.MaxBytes > 0 {
		r = io.LimitReader(r, e.MaxBytes)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeExtractionFailed, "read content", err)
	}
	if !utf8.Valid(data) {
		return nil, apperr.New(apperr.CodeExtractionFailed, "file is not valid UTF-8 text")
	}
	return &Result{Kind: kind, Text: string(data)}, nil
}
