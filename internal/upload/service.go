// Package upload orchestrates a file's path from multipart body to response
// envelope: validation, content extraction, key derivation, and persistence
// through the active storage driver.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/config"
	"github.com/filegate/service/internal/extract"
	"github.com/filegate/service/internal/keypolicy"
	"github.com/filegate/service/internal/metrics"
	"github.com/filegate/service/internal/storage"
)

// legacyExts are binary Office formats the extraction collaborators do not
// parse; they are rejected up front instead of attempted.
var legacyExts = map[string]bool{".doc": true, ".ppt": true, ".xls": true}

// batchConcurrency bounds how many files of one batch are processed at once.
const batchConcurrency = 4

// Options are the caller's per-request switches.
type Options struct {
	EnableOCR    bool
	EnableVision bool
	SaveAll      bool
	// Path prefixes the derived key; Filename replaces the uploaded name.
	Path     string
	Filename string
	// Overwrite forces the overwrite duplicate policy for this request.
	Overwrite bool
}

// File is one incoming upload. SizeHint is the declared size (from the
// multipart part or Content-Length) and may be zero when unknown.
type File struct {
	Name        string
	ContentType string
	SizeHint    int64
	Reader      io.Reader
}

// Content is the structured content of a processed file.
type Content struct {
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	Inline string `json:"inline,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Result is the outcome for one file.
type Result struct {
	Filename string   `json:"filename"`
	Status   bool     `json:"status"`
	Type     string   `json:"type,omitempty"`
	Content  *Content `json:"content,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Summary aggregates a batch.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// BatchResult is the batch endpoint's payload.
type BatchResult struct {
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// DriverSource yields the active storage driver. Each request resolves the
// driver once and keeps it, so a mid-request config swap never mixes
// backends.
type DriverSource interface {
	Driver() storage.Driver
}

// Service is the upload orchestrator.
type Service struct {
	cfg       *config.Store
	drivers   DriverSource
	extractor extract.Extractor
	ocr       *extract.OCRClient
	log       *zap.Logger
}

func NewService(cfg *config.Store, drivers DriverSource, extractor extract.Extractor, ocr *extract.OCRClient, log *zap.Logger) *Service {
	if extractor == nil {
		extractor = &extract.TextExtractor{}
	}
	return &Service{cfg: cfg, drivers: drivers, extractor: extractor, ocr: ocr, log: log}
}

// Handle processes one file end to end.
func (s *Service) Handle(ctx context.Context, f File, opts Options) Result {
	cfg := s.cfg.Current()
	driver := s.drivers.Driver()

	// Without a recognition service OCR can never be honored.
	if s.ocr == nil {
		opts.EnableOCR = false
	}

	res, err := s.process(ctx, cfg, driver, f, opts)
	if err != nil {
		metrics.UploadProcessed(string(driver.Backend()), false)
		s.log.Warn("upload rejected",
			zap.String("filename", f.Name),
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err))
		return Result{Filename: f.Name, Status: false, Error: clientMessage(err)}
	}
	metrics.UploadProcessed(string(driver.Backend()), true)
	return *res
}

func (s *Service) process(ctx context.Context, cfg *config.Config, driver storage.Driver, f File, opts Options) (*Result, error) {
	ext := strings.ToLower(path.Ext(f.Name))

	if cfg.MaxFileSize > 0 && f.SizeHint > cfg.MaxFileSize {
		return nil, apperr.New(apperr.CodeFileTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", cfg.MaxFileSize))
	}
	if legacyExts[ext] {
		return nil, apperr.New(apperr.CodeUnsupportedLegacyFormat,
			fmt.Sprintf("legacy format %s is not supported, convert to the OOXML equivalent", ext))
	}
	if len(cfg.AllowedExtensions) > 0 && !extensionAllowed(cfg.AllowedExtensions, ext) {
		return nil, apperr.New(apperr.CodeUnsupportedFileType, fmt.Sprintf("file type %s is not allowed", ext))
	}

	kind := extract.Classify(f.Name, f.ContentType)
	if kind == extract.KindImage && !opts.EnableVision && !opts.EnableOCR {
		return nil, apperr.New(apperr.CodeVisionOrOCRRequired,
			"image uploads need enable_vision or enable_ocr")
	}
	if opts.SaveAll && driver.Backend() == storage.BackendNone {
		return nil, apperr.New(apperr.CodeStorageRequired, "save_all needs a configured storage backend")
	}

	data, err := s.readBounded(f.Reader, cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	extracted, err := s.extractContent(ctx, f, kind, data, opts)
	if err != nil {
		return nil, err
	}

	content := &Content{Text: extracted}
	persist := opts.SaveAll || (kind != extract.KindText && kind != extract.KindCode && driver.Backend() != storage.BackendNone)
	if persist {
		obj, err := s.persist(ctx, cfg, driver, f, opts, data, checksum)
		if err != nil {
			return nil, err
		}
		content.URL = obj.URL
		content.Inline = obj.Inline
		content.Key = obj.Key
	}

	return &Result{Filename: f.Name, Status: true, Type: string(kind), Content: content}, nil
}

// readBounded reads the body with a hard cutoff one byte past the limit, so
// undeclared oversized uploads are still rejected.
func (s *Service) readBounded(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeBadRequest, "read upload body", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeBadRequest, "read upload body", err)
	}
	if int64(len(data)) > max {
		return nil, apperr.New(apperr.CodeFileTooLarge, fmt.Sprintf("file exceeds the %d byte limit", max))
	}
	return data, nil
}

func (s *Service) extractContent(ctx context.Context, f File, kind extract.Kind, data []byte, opts Options) (string, error) {
	if kind == extract.KindImage && opts.EnableOCR {
		text, err := s.ocr.Recognize(ctx, f.Name, data)
		if err != nil {
			return "", err
		}
		return text, nil
	}
	res, err := s.extractor.Extract(ctx, f.Name, f.ContentType, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (s *Service) persist(ctx context.Context, cfg *config.Config, driver storage.Driver, f File, opts Options, data []byte, checksum string) (*storage.StoredObject, error) {
	name := f.Name
	if opts.Filename != "" {
		name = opts.Filename
	}

	policy := keypolicy.DuplicatePolicy(cfg.DuplicatePolicy)
	if opts.Overwrite {
		policy = keypolicy.DuplicateOverwrite
	}

	// Collision checks must see the final key, prefix included.
	prefix := ""
	if opts.Path != "" {
		prefix = strings.Trim(opts.Path, "/") + "/"
	}
	exists := keypolicy.ExistsFunc(driver.Exists)
	if prefix != "" {
		exists = func(ctx context.Context, key string) (bool, error) {
			return driver.Exists(ctx, prefix+key)
		}
	}

	key, err := keypolicy.DeriveKey(ctx, name, checksum, keypolicy.Options{
		Strategy:      keypolicy.Strategy(cfg.KeyStrategy),
		Duplicate:     policy,
		HashPrefixLen: cfg.HashPrefixLen,
		KeepFilename:  true,
	}, exists)
	if err != nil {
		if errors.Is(err, keypolicy.ErrDuplicateKey) {
			return nil, apperr.New(apperr.CodeDuplicateKey, "an object with this key already exists")
		}
		return nil, mapStorageErr(err)
	}
	key = prefix + key

	// Under the error policy the derivation's exists check still races a
	// concurrent writer; backends with an exclusive create close that race
	// server-side.
	put := driver.Put
	if cp, ok := driver.(storage.ConditionalPutter); ok && policy == keypolicy.DuplicateError {
		put = cp.PutExclusive
	}
	obj, err := put(ctx, key, data, f.ContentType)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return obj, nil
}

func extensionAllowed(allowed []string, ext string) bool {
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), strings.TrimPrefix(ext, ".")) {
			return true
		}
	}
	return false
}

// mapStorageErr translates a storage error code into its API error.
func mapStorageErr(err error) error {
	if !storage.IsCode(err, storage.ErrInternal) {
		switch storage.CodeOf(err) {
		case storage.ErrNotFound:
			return apperr.Wrap(apperr.CodeNotFound, "object not found", err)
		case storage.ErrTimeout:
			return apperr.Wrap(apperr.CodeStorageTimeout, "storage backend timed out", err)
		case storage.ErrUnavailable:
			return apperr.Wrap(apperr.CodeStorageUnavailable, "storage backend unavailable", err)
		case storage.ErrUnsupported, storage.ErrUnsupportedByBackend:
			return apperr.Wrap(apperr.CodeStorageUnsupported, "operation not supported by the active backend", err)
		case storage.ErrPreconditionFailed:
			return apperr.Wrap(apperr.CodeDuplicateKey, "an object with this key already exists", err)
		}
	}
	return apperr.Wrap(apperr.CodeInternal, "storage operation failed", err)
}

func clientMessage(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return string(apperr.CodeInternal)
}

// HandleBatch processes files concurrently, never letting one failure abort
// the rest. Results keep the submission order.
func (s *Service) HandleBatch(ctx context.Context, files []File, opts Options) BatchResult {
	results := make([]Result, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, f := range files {
		g.Go(func() error {
			results[i] = s.Handle(ctx, f, opts)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Total: len(files)}
	for _, r := range results {
		if r.Status {
			summary.Success++
		} else {
			summary.Failed++
		}
	}
	return BatchResult{Summary: summary, Results: results}
}
