// Package uptypes contains shared types for the batchup client.
// It exists as a separate package so that both the root package and the
// internal operation packages can share types without import cycles.
package uptypes

import (
	"net/http"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/fs"
)

// TaskStatus is the lifecycle state of a single upload task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskUploading TaskStatus = "uploading"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// UploadTask is one file to transfer. A task is created by the scanner (or
// the session ingest path), claimed by exactly one upload worker for the
// duration of its transfer, and never shared across batches.
type UploadTask struct {
	// LogicalPath is the destination identity, unique within a batch
	LogicalPath string

	// LocalPath is the file's location on the configured filesystem.
	// Empty when Body is set.
	LocalPath string

	// Body holds in-memory file content. Takes precedence over LocalPath.
	Body []byte

	// Size is the file size in bytes, captured at scan time
	Size int64

	// ContentType is the detected MIME type, if known
	ContentType string

	// CID is the optional content address (sha256 hex) computed at scan time
	CID string

	// Status is mutated only by the worker that owns the task
	Status TaskStatus

	// StorageKey is the object key assigned by the coordinating service
	StorageKey string

	// UploadID is the multipart identifier, when the service chose multipart
	UploadID string

	// Parts holds completed-chunk tokens, ordered by part number
	Parts []PartInfo

	// Error holds the failure message when Status is TaskFailed
	Error string

	// BytesUploaded counts bytes transferred for this task
	BytesUploaded int64

	StartedAt   time.Time
	CompletedAt time.Time
}

// PartInfo is one completed multipart chunk: a 1-based part number and the
// opaque completion token the storage backend returned for it.
type PartInfo struct {
	PartNumber int
	ETag       string
}

// BatchContext is one batch's shared state. TotalBytes is fixed at creation
// and does not change even if individual files later fail.
type BatchContext struct {
	BatchID     string
	SessionID   string
	Tasks       []*UploadTask
	TotalBytes  int64
	CreatedAt   time.Time
	FinalizedAt time.Time
}

// RetryOptions configures retry behavior for network operations.
// It is pure configuration and carries no mutable state.
type RetryOptions struct {
	// MaxRetries is the number of additional attempts beyond the first
	MaxRetries int

	// InitialDelay is the backoff delay before the first retry
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff delay
	MaxDelay time.Duration

	// Jitter randomizes each delay within ±25% when enabled
	Jitter bool

	// RetryIf overrides the default retryability classification.
	// When nil, tagged retryability on the error decides.
	RetryIf func(error) bool
}

// Attempts is the total try count: the first call plus MaxRetries retries.
// A negative MaxRetries counts as zero, never as unlimited.
func (r RetryOptions) Attempts() uint {
	if r.MaxRetries < 0 {
		return 1
	}
	return uint(r.MaxRetries) + 1
}

// DefaultRetryOptions returns the retry configuration used when none is given.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// Progress is an aggregate snapshot across one batch. BytesUploaded counts
// only files that fully completed.
type Progress struct {
	TotalFiles     int   `json:"total_files"`
	FilesCompleted int   `json:"files_completed"`
	FilesFailed    int   `json:"files_failed"`
	TotalBytes     int64 `json:"total_bytes"`
	BytesUploaded  int64 `json:"bytes_uploaded"`
}

// ProgressObserver receives aggregate progress updates. Update is invoked
// synchronously from the scheduler's settle dispatch, one event at a time,
// so implementations need no locking of their own.
type ProgressObserver interface {
	Update(p Progress)
}

// FailedFile names one file that did not survive a batch.
type FailedFile struct {
	LogicalPath string `json:"logical_path"`
	Error       string `json:"error"`
}

// BatchResult is the outcome of one batch upload run.
type BatchResult struct {
	BatchID   string `json:"batch_id"`
	SessionID string `json:"session_id"`

	FilesUploaded int   `json:"files_uploaded"`
	FilesFailed   int   `json:"files_failed"`
	BytesUploaded int64 `json:"bytes_uploaded"`

	// Failed lists files that exhausted their retries, for caller inspection
	Failed []FailedFile `json:"failed,omitempty"`

	// EnqueuedCount is how many files the coordinating service accepted for
	// downstream processing. It need not match FilesUploaded.
	EnqueuedCount int `json:"enqueued_count"`

	// StoragePrefix is the destination prefix reported at finalize
	StoragePrefix string `json:"storage_prefix"`

	Duration time.Duration `json:"-"`
}

// ClientConfig holds configuration for the batchup client.
type ClientConfig struct {
	// WorkerURL is the base URL of the coordinating service
	WorkerURL string

	// Uploader identifies this client to the coordinating service
	Uploader string

	// ParallelUploads bounds file-level concurrency
	ParallelUploads int

	// ParallelParts bounds chunk-level concurrency within one file
	ParallelParts int

	// Retry configures network retry behavior
	Retry RetryOptions

	// HTTPClient overrides the default HTTP client
	HTTPClient *http.Client

	// Filesystem abstracts file access; defaults to the OS filesystem
	Filesystem fs.Filesystem

	// Observer receives aggregate progress events, if set
	Observer ProgressObserver

	// ProcessingConfig is passed through to the coordinating service per file
	ProcessingConfig map[string]any
}

// Option configures the batchup client.
type Option func(*ClientConfig)

// BatchOptionConfig holds per-batch configuration.
type BatchOptionConfig struct {
	// RootPath is reported to the coordinating service at batch init
	RootPath string

	// ParentPI is the parent processing identifier, when resuming a tree
	ParentPI string

	// Metadata is attached to the batch at init
	Metadata map[string]string

	// Observer receives this batch's progress events, overriding the
	// client-level observer for the run
	Observer ProgressObserver
}

// BatchOption configures one batch upload run.
type BatchOption func(*BatchOptionConfig)
