// Package storage defines the driver contract for persisting uploaded
// artifacts and normalizes failures from heterogeneous backends into one
// error shape. Every driver honors the same put/get/delete/presign/list
// contract, so swapping backends is a config change.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Backend tags which driver variant owns an object.
type Backend string

const (
	BackendLocal    Backend = "local"
	BackendS3       Backend = "s3"
	BackendTelegram Backend = "telegram"
	BackendFileAPI  Backend = "file_api"
	BackendNone     Backend = "none"
)

// Operation distinguishes read from write presigning.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// StoredObject is one persisted artifact. Immutable after a successful put.
type StoredObject struct {
	Key       string    `json:"key"`
	Backend   Backend   `json:"backend"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	// URL is a direct or presigned link; empty for the none backend, where
	// Inline carries the content instead.
	URL    string `json:"url,omitempty"`
	Inline string `json:"inline,omitempty"`
}

// Page is one list window. NextToken restarts the listing after the last
// returned key; empty means the listing is exhausted.
type Page struct {
	Objects   []StoredObject `json:"objects"`
	NextToken string         `json:"nextToken,omitempty"`
}

// Driver is the uniform storage contract. Put consumes the full content
// slice so retries never re-read a spent stream; upload size limits bound
// the allocation upstream.
type Driver interface {
	Backend() Backend
	Put(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string, permanent bool) error
	Presign(ctx context.Context, key string, ttl time.Duration, op Operation) (string, error)
	List(ctx context.Context, prefix, pageToken string, pageSize int) (*Page, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ConditionalPutter is implemented by drivers whose backend offers a native
// create-if-absent primitive. PutExclusive writes the object only when the
// key is free and fails with ErrPreconditionFailed when it is taken, closing
// the check-then-put race an Exists call leaves open.
type ConditionalPutter interface {
	PutExclusive(ctx context.Context, key string, data []byte, contentType string) (*StoredObject, error)
}

// ErrorCode classifies a storage failure independently of the backend.
type ErrorCode string

const (
	ErrNotFound             ErrorCode = "NOT_FOUND"
	ErrUnavailable          ErrorCode = "UNAVAILABLE"
	ErrTimeout              ErrorCode = "TIMEOUT"
	ErrUnsupported          ErrorCode = "UNSUPPORTED"
	ErrUnsupportedByBackend ErrorCode = "UNSUPPORTED_BY_BACKEND"
	ErrPreconditionFailed   ErrorCode = "PRECONDITION_FAILED"
	ErrInternal             ErrorCode = "INTERNAL"
)

// Error is the normalized failure type shared by all drivers. The message
// may reference backend internals and is for server-side logs only; clients
// see the code.
type Error struct {
	Code    ErrorCode
	Backend Backend
	msg     string
	cause   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("storage %s [%s]: %s", e.Backend, e.Code, e.msg)
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.cause }

// NewError creates a classified storage error.
func NewError(backend Backend, code ErrorCode, msg string) *Error {
	return &Error{Code: code, Backend: backend, msg: msg}
}

// WrapError creates a classified storage error carrying its cause.
func WrapError(backend Backend, code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Backend: backend, msg: msg, cause: cause}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal when unclassified.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrInternal
}

// IsCode reports whether err carries the given storage error code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// retryable reports whether an operation that failed with err may be safely
// reattempted, assuming the operation itself is idempotent.
func retryable(err error) bool {
	switch CodeOf(err) {
	case ErrUnavailable, ErrTimeout:
		return true
	default:
		return false
	}
}
