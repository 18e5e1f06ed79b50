// Package response provides shared JSON response helpers for HTTP handlers.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/filegate/service/internal/apperr"
)

// Envelope is the standard API response envelope. Content is either inline
// text, a structured object (URL plus extracted text), or absent on failure.
type Envelope struct {
	Status  bool        `json:"status"`
	Type    string      `json:"type,omitempty"`
	Content interface{} `json:"content,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// JSON writes a JSON-encoded payload with the given HTTP status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// OK writes a 200 response with the given result type and content.
func OK(w http.ResponseWriter, typ string, content interface{}) {
	JSON(w, http.StatusOK, Envelope{Status: true, Type: typ, Content: content})
}

// Fail writes an error response. Every failure carries a non-empty error
// string.
func Fail(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = string(apperr.CodeInternal)
	}
	JSON(w, status, Envelope{Status: false, Error: message})
}

// FailErr classifies err and writes the matching status and client-safe
// message. Unclassified errors become a generic 500.
func FailErr(w http.ResponseWriter, err error) {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		Fail(w, apperr.HTTPStatus(ae.Code), ae.Error())
		return
	}
	Fail(w, http.StatusInternalServerError, "internal server error")
}
