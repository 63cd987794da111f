// Package errors provides error types and handling for batch upload operations.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error represents a batch upload operation error with context about the
// operation that failed. It wraps the underlying error with the logical
// path and batch identifier for better debugging.
type Error struct {
	// Op is the operation that failed (e.g., "initBatch", "putPart", "finalize")
	Op string

	// Batch is the batch identifier (if applicable)
	Batch string

	// Path is the logical path of the file involved (if applicable)
	Path string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.Batch != "" && e.Path != "" {
		return fmt.Sprintf("batchup.%s %s/%s: %v", e.Op, e.Batch, e.Path, e.Err)
	}
	if e.Batch != "" {
		return fmt.Sprintf("batchup.%s batch %s: %v", e.Op, e.Batch, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("batchup.%s file %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("batchup.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithBatch adds batch context to an existing error.
func (e *Error) WithBatch(batch string) *Error {
	e.Batch = batch
	return e
}

// WithPath adds file path context to an existing error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// UploadError describes a failed network transfer. Retryability and the HTTP
// status are recorded at the point of failure, so callers never have to
// re-inspect error shapes to decide whether a retry makes sense.
type UploadError struct {
	// Path is the logical path of the file being transferred
	Path string

	// StatusCode is the HTTP status observed, or 0 for transport failures
	StatusCode int

	// Retryable reports whether another attempt may succeed
	Retryable bool

	// RetryAfter is a server-supplied delay hint (from a Retry-After
	// header), or 0 when the server gave none
	RetryAfter time.Duration

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload %s: status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err (or anything it wraps) is a transfer
// failure that may succeed on another attempt. Errors without a tagged
// retryability are not retryable.
func IsRetryable(err error) bool {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// RetryAfterHint extracts a server-supplied delay hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ue *UploadError
	if errors.As(err, &ue) && ue.RetryAfter > 0 {
		return ue.RetryAfter, true
	}
	return 0, false
}

// Sentinel errors for common batch upload failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("batchup: invalid input")

	// ErrMissingETag indicates that the storage backend accepted a part
	// but returned no completion token
	ErrMissingETag = errors.New("batchup: storage response missing ETag")

	// ErrPartContract indicates that the presigned part URLs are
	// inconsistent with the file size and part size the coordinating
	// service reported
	ErrPartContract = errors.New("batchup: part URLs inconsistent with declared part size")

	// ErrBatchFailed indicates that every file in a batch failed to upload
	ErrBatchFailed = errors.New("batchup: all files in batch failed")

	// ErrBatchRejected indicates that the coordinating service refused to
	// open the batch
	ErrBatchRejected = errors.New("batchup: batch rejected by coordinating service")

	// ErrSessionNotFound indicates that the requested session does not exist
	ErrSessionNotFound = errors.New("batchup: session not found")

	// ErrSessionConflict indicates an operation that is invalid in the
	// session's current state
	ErrSessionConflict = errors.New("batchup: operation conflicts with session state")

	// ErrSessionExpired indicates that the session's TTL has passed
	ErrSessionExpired = errors.New("batchup: session expired")
)
