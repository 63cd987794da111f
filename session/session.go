// Package session is the server-facing wrapper around one batch upload run.
// A session collects files into a per-session temp directory, then drives a
// single batch upload asynchronously while a remote caller polls its status.
//
// Sessions live only in process memory. A restart loses in-flight sessions;
// the process is a stateless gateway in front of the durable coordinating
// service.
package session

import (
	"time"

	"github.com/packlane/batchup/uptypes"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusReceiving   Status = "receiving"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// acceptsFiles reports whether new file data may be added in state s.
func (s Status) acceptsFiles() bool {
	return s == StatusInitialized || s == StatusReceiving
}

// ReceivedFile is one file buffered into the session's temp directory.
type ReceivedFile struct {
	LogicalPath string `json:"logical_path"`
	Size        int64  `json:"size"`

	// localPath is where the bytes sit on disk, relative to nothing the
	// caller can see.
	localPath string
}

// Session is a snapshot of one upload session. Snapshots are immutable:
// every mutation replaces the whole record in the store, so two concurrent
// readers never observe a half-applied update.
type Session struct {
	ID     string `json:"session_id"`
	Status Status `json:"status"`

	Files    []ReceivedFile   `json:"files"`
	Progress uptypes.Progress `json:"progress"`

	// Errors accumulates failures from the asynchronous upload run; they
	// surface through polling, never through the triggering request.
	Errors []string `json:"errors,omitempty"`

	// Result is set once the underlying batch run finishes.
	Result *uptypes.BatchResult `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// dir is the temp directory backing received files
	dir string
}

// clone returns a copy safe to mutate before being swapped into the store.
func (s *Session) clone() *Session {
	out := *s
	out.Files = append([]ReceivedFile(nil), s.Files...)
	out.Errors = append([]string(nil), s.Errors...)
	return &out
}

// totalSize sums the sizes of all received files.
func (s *Session) totalSize() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Size
	}
	return total
}
