// Package errors defines the sentinel errors and the AppError wrapper used
// across the question-mining pipeline. The sentinels map onto the error
// taxonomy of the system: recoverable per-record ingestion failures,
// fatal classifier-artifact mismatches, index-consistency violations that
// block writes, and export failures that must never leave partial files.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrQuarantined marks a raw record set aside by the normalizer; the
	// batch continues.
	ErrQuarantined = errors.New("record quarantined")
	// ErrArtifactMismatch is fatal for a run: the classifier artifact
	// declares a feature-extractor version other than the one running.
	ErrArtifactMismatch = errors.New("classifier artifact version mismatch")
	// ErrIndexInconsistent indicates the facet index and record store
	// disagree; writes are blocked until a rebuild completes.
	ErrIndexInconsistent = errors.New("facet index inconsistent with store")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrExportFailed      = errors.New("export failed")
	ErrWritesBlocked     = errors.New("writes blocked pending recovery")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

// AppError wraps a sentinel with a human-readable message and an HTTP
// status code for the searcher service.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError from a sentinel, status code, and message.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with Printf-style message formatting.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the searcher should
// return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrQuestionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidQuery), errors.Is(err, ErrQuarantined):
		return http.StatusBadRequest
	case errors.Is(err, ErrWritesBlocked), errors.Is(err, ErrIndexInconsistent):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
