// Package handlers implements the HTTP handlers of the report workflow API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/checkpoint"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/engine"
)

// Response is the unified API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo is the error payload of a failed response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes surfaced by the API.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeLocked         = "locked"
	CodeCanceled       = "canceled"
	CodeInternal       = "internal_error"
)

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage writes an error envelope with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if logger != nil {
		logger.Error("API error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Int("status", status),
		)
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// WriteEngineError maps driver and store errors onto HTTP statuses.
func WriteEngineError(w http.ResponseWriter, err error, logger *zap.Logger) {
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), logger)
	case errors.Is(err, checkpoint.ErrNotFound):
		WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, err.Error(), logger)
	case errors.Is(err, engine.ErrLeaseHeld):
		WriteErrorMessage(w, http.StatusConflict, CodeLocked, err.Error(), logger)
	case errors.Is(err, engine.ErrThreadCanceled):
		WriteErrorMessage(w, http.StatusConflict, CodeCanceled, err.Error(), logger)
	case errors.Is(err, engine.ErrNoPendingInterrupt),
		errors.Is(err, checkpoint.ErrVersionConflict):
		WriteErrorMessage(w, http.StatusConflict, CodeConflict, err.Error(), logger)
	case errors.Is(err, checkpoint.ErrInvalidInput):
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), logger)
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, err.Error(), logger)
	}
}

// DecodeJSONBody decodes a JSON request body in strict mode, writing the
// error response itself on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "request body is empty", logger)
		return errors.New("request body is empty")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body", logger)
		return err
	}
	return nil
}

// ResponseWriter wraps http.ResponseWriter to capture the status code for
// logging and metrics middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write marks the response written.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	rw.Written = true
	return rw.ResponseWriter.Write(b)
}

// Flush passes through to the underlying flusher so streaming endpoints
// keep working behind the wrapper.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
