// Package render writes JSON responses and turns request decoding or validation failures into uniform error bodies.
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	jsonWithStatus(w, data, code)
}

// ServiceError renders a domain failure with human readable message
func ServiceError(w http.ResponseWriter, message string, code int) {
	jsonWithStatus(w, ErrorResponse{Error: ServiceErrorType, Message: message}, code)
}

// DecodeError renders body that could not be read as JSON. Oversized body gets 413, anything else 400
func DecodeError(w http.ResponseWriter, err error) {
	message, code := describeDecodeError(err)
	jsonWithStatus(w, ErrorResponse{Error: DecodingErrorType, Message: message}, code)
}

func describeDecodeError(err error) (string, int) {
	var typeErr *json.UnmarshalTypeError
	var sizeErr *http.MaxBytesError

	switch {
	case errors.As(err, &sizeErr):
		return fmt.Sprintf("Request body is too large (maximum %d bytes)", sizeErr.Limit), http.StatusRequestEntityTooLarge
	case errors.As(err, &typeErr):
		return fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field), http.StatusBadRequest
	case errors.Is(err, io.EOF):
		return "Request body is empty", http.StatusBadRequest
	default:
		return "Failed to parse JSON: " + err.Error(), http.StatusBadRequest
	}
}

// Body is encoded before headers are written, so encoding failure still gets a proper 500
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
