// Package apperr defines the error codes surfaced on the API response
// envelope and the mapping from internal errors to HTTP statuses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code identifies a failure class on the wire.
type Code string

const (
	CodeAuthInvalid             Code = "AUTH_INVALID"
	CodeAuthLocked              Code = "AUTH_LOCKED"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeFileTooLarge            Code = "FILE_TOO_LARGE"
	CodeUnsupportedFileType     Code = "UNSUPPORTED_FILE_TYPE"
	CodeUnsupportedLegacyFormat Code = "UNSUPPORTED_LEGACY_FORMAT"
	CodeVisionOrOCRRequired     Code = "VISION_OR_OCR_REQUIRED"
	CodeStorageRequired         Code = "STORAGE_REQUIRED"
	CodeDuplicateKey            Code = "DUPLICATE_KEY"
	CodeNotFound                Code = "NOT_FOUND"
	CodeStorageUnavailable      Code = "STORAGE_UNAVAILABLE"
	CodeStorageTimeout          Code = "STORAGE_TIMEOUT"
	CodeStorageUnsupported      Code = "STORAGE_UNSUPPORTED"
	CodeExtractionFailed        Code = "EXTRACTION_FAILED"
	CodeBadRequest              Code = "BAD_REQUEST"
	CodeInternal                Code = "INTERNAL"
)

// Error is a classified failure. Message is safe to return to the client;
// anything sensitive belongs in the wrapped cause, which is only logged.
type Error struct {
	Code    Code
	Message string
	// RetryAfter hints when a rate-limited caller may try again.
	RetryAfter time.Duration
	cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with a client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error carrying an internal cause for server-side logs.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, or CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeAuthInvalid:
		return http.StatusUnauthorized
	case CodeAuthLocked:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedFileType, CodeUnsupportedLegacyFormat,
		CodeVisionOrOCRRequired, CodeStorageRequired, CodeBadRequest:
		return http.StatusBadRequest
	case CodeDuplicateKey:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeStorageUnsupported:
		return http.StatusNotImplemented
	case CodeStorageUnavailable, CodeStorageTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
