package upload

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/apperr"
	"github.com/filegate/service/internal/response"
	"github.com/filegate/service/internal/storage"
)

// Handler exposes the upload and object endpoints.
type Handler struct {
	service *Service
	drivers DriverSource
	log     *zap.Logger
}

func NewHandler(service *Service, drivers DriverSource, log *zap.Logger) *Handler {
	return &Handler{service: service, drivers: drivers, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Post("/upload/batch", h.UploadBatch)
	r.Get("/objects", h.ListObjects)
	r.Get("/objects/*", h.PresignObject)
	r.Delete("/objects/*", h.DeleteObject)
}

func optionsFromForm(r *http.Request) Options {
	return Options{
		EnableOCR:    formBool(r, "enable_ocr", false),
		EnableVision: formBool(r, "enable_vision", true),
		SaveAll:      formBool(r, "save_all", false),
		Path:         r.FormValue("path"),
		Filename:     r.FormValue("filename"),
		Overwrite:    formBool(r, "overwrite", false),
	}
}

func formBool(r *http.Request, key string, fallback bool) bool {
	v := strings.ToLower(r.FormValue(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "on"
}

func fileFromHeader(header *multipart.FileHeader) (File, multipart.File, error) {
	f, err := header.Open()
	if err != nil {
		return File{}, nil, err
	}
	return File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeHint:    header.Size,
		Reader:      f,
	}, f, nil
}

// Upload godoc
// @Summary      Upload a file
// @Description  Accepts one multipart file, extracts its content and optionally persists it
// @Tags         upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file           formData  file    true   "file content"
// @Param        enable_ocr     formData  boolean false  "run OCR on images"
// @Param        enable_vision  formData  boolean false  "allow image content"
// @Param        save_all       formData  boolean false  "persist every file"
// @Success      200  {object}  response.Envelope
// @Failure      400  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "missing file field", err))
		return
	}
	defer file.Close()

	result := h.service.Handle(r.Context(), File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		SizeHint:    header.Size,
		Reader:      file,
	}, optionsFromForm(r))

	writeResult(w, result)
}

// UploadBatch godoc
// @Summary      Upload several files
// @Description  Applies the same validation per file; one failure never aborts the batch
// @Tags         upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        files  formData  file  true  "file contents"
// @Success      200  {object}  response.Envelope
// @Failure      400  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /upload/batch [post]
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "parse multipart body", err))
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		headers = r.MultipartForm.File["file"]
	}
	if len(headers) == 0 {
		response.FailErr(w, apperr.New(apperr.CodeBadRequest, "no files in request"))
		return
	}

	files := make([]File, 0, len(headers))
	var open []multipart.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()
	for _, header := range headers {
		f, raw, err := fileFromHeader(header)
		if err != nil {
			response.FailErr(w, apperr.Wrap(apperr.CodeBadRequest, "open uploaded file", err))
			return
		}
		open = append(open, raw)
		files = append(files, f)
	}

	batch := h.service.HandleBatch(r.Context(), files, optionsFromForm(r))
	response.OK(w, "batch", batch)
}

func writeResult(w http.ResponseWriter, result Result) {
	if !result.Status {
		status := http.StatusBadRequest
		if code := codeFromMessage(result.Error); code != "" {
			status = apperr.HTTPStatus(code)
		}
		response.JSON(w, status, response.Envelope{Status: false, Error: result.Error})
		return
	}
	response.JSON(w, http.StatusOK, response.Envelope{Status: true, Type: result.Type, Content: result.Content})
}

// codeFromMessage recovers the code prefix from a client message of the
// form "CODE: detail".
func codeFromMessage(message string) apperr.Code {
	head, _, _ := strings.Cut(message, ":")
	switch code := apperr.Code(strings.TrimSpace(head)); code {
	case apperr.CodeFileTooLarge, apperr.CodeUnsupportedFileType, apperr.CodeUnsupportedLegacyFormat,
		apperr.CodeVisionOrOCRRequired, apperr.CodeStorageRequired, apperr.CodeDuplicateKey,
		apperr.CodeNotFound, apperr.CodeStorageUnavailable, apperr.CodeStorageTimeout,
		apperr.CodeStorageUnsupported, apperr.CodeExtractionFailed, apperr.CodeBadRequest,
		apperr.CodeInternal:
		return code
	}
	return ""
}

// ListObjects godoc
// @Summary      List stored objects
// @Tags         objects
// @Produce      json
// @Param        prefix     query  string  false  "key prefix"
// @Param        page_token query  string  false  "resume after this key"
// @Param        page_size  query  int     false  "page size"
// @Success      200  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /objects [get]
func (h *Handler) ListObjects(w http.ResponseWriter, r *http.Request) {
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	page, err := h.drivers.Driver().List(r.Context(),
		r.URL.Query().Get("prefix"), r.URL.Query().Get("page_token"), pageSize)
	if err != nil {
		response.FailErr(w, mapStorageErr(err))
		return
	}
	response.OK(w, "objects", page)
}

// PresignObject godoc
// @Summary      Resolve a download link for a stored object
// @Tags         objects
// @Produce      json
// @Param        key  path   string  true   "object key"
// @Param        ttl  query  string  false  "link lifetime, Go duration"
// @Success      200  {object}  response.Envelope
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /objects/{key} [get]
func (h *Handler) PresignObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	var ttl time.Duration
	if v := r.URL.Query().Get("ttl"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			response.FailErr(w, apperr.New(apperr.CodeBadRequest, "invalid ttl"))
			return
		}
		ttl = parsed
	}
	link, err := h.drivers.Driver().Presign(r.Context(), key, ttl, storage.OperationRead)
	if err != nil {
		response.FailErr(w, mapStorageErr(err))
		return
	}
	response.OK(w, "url", map[string]string{"key": key, "url": link})
}

// DeleteObject godoc
// @Summary      Delete a stored object
// @Description  Soft-deletes by default; pass permanent=true to remove outright
// @Tags         objects
// @Produce      json
// @Param        key        path   string   true   "object key"
// @Param        permanent  query  boolean  false  "skip the trash"
// @Success      200  {object}  response.Envelope
// @Failure      404  {object}  response.Envelope
// @Security     BearerAuth
// @Router       /objects/{key} [delete]
func (h *Handler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	permanent := strings.EqualFold(r.URL.Query().Get("permanent"), "true")
	if err := h.drivers.Driver().Delete(r.Context(), key, permanent); err != nil {
		response.FailErr(w, mapStorageErr(err))
		return
	}
	response.OK(w, "deleted", map[string]string{"key": key})
}
