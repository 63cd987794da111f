package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	uperrors "github.com/packlane/batchup/errors"
	"github.com/packlane/batchup/uptypes"
)

const (
	// DefaultTTL is the hard ceiling on a session's lifetime, independent
	// of activity.
	DefaultTTL = 30 * time.Minute

	// DefaultGrace is how long a finished session stays readable before
	// deletion.
	DefaultGrace = 2 * time.Minute

	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = time.Minute
)

// Runner executes one batch upload. *batchup.Client satisfies it.
type Runner interface {
	UploadBatch(ctx context.Context, tasks []*uptypes.UploadTask, opts ...uptypes.BatchOption) (*uptypes.BatchResult, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTTL overrides the session lifetime ceiling.
func WithTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.ttl = ttl }
}

// WithGrace overrides the post-completion read window.
func WithGrace(grace time.Duration) ManagerOption {
	return func(m *Manager) { m.grace = grace }
}

// WithSweepInterval overrides how often expired sessions are collected.
func WithSweepInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = interval }
}

// WithLogger sets the manager's logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// Manager owns the session lifecycle: creation, file ingestion, the
// asynchronous processing run, cancellation, and expiry. The store is
// injected so independent managers can be tested in isolation.
type Manager struct {
	store  Store
	runner Runner
	log    *zap.Logger

	ttl           time.Duration
	grace         time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewManager creates a Manager backed by store that runs uploads through
// runner.
func NewManager(store Store, runner Runner, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		runner:        runner,
		log:           zap.NewNop(),
		ttl:           DefaultTTL,
		grace:         DefaultGrace,
		sweepInterval: DefaultSweepInterval,
		cancels:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session with an empty temp directory and a fixed
// expiry.
func (m *Manager) Create(_ context.Context) (*Session, error) {
	dir, err := os.MkdirTemp("", "batchup-session-")
	if err != nil {
		return nil, uperrors.NewError("createSession", err)
	}

	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Status:    StatusInitialized,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		dir:       dir,
	}
	m.store.Put(s)
	m.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.Time("expires_at", s.ExpiresAt))
	return s, nil
}

// Get returns the current snapshot for id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.store.Get(id)
	if !ok {
		return nil, uperrors.ErrSessionNotFound
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, uperrors.ErrSessionExpired
	}
	return s, nil
}

// AddFile buffers one file into the session's temp directory. Data is
// refused with a conflict once processing has started or the session has
// reached a terminal state.
func (m *Manager) AddFile(id, logicalPath string, r io.Reader) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.Status.acceptsFiles() {
		return nil, fmt.Errorf("%w: session is %s", uperrors.ErrSessionConflict, s.Status)
	}

	local, err := safeJoin(s.dir, logicalPath)
	if err != nil {
		return nil, uperrors.NewError("addFile", err).WithPath(logicalPath)
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return nil, uperrors.NewError("addFile", err).WithPath(logicalPath)
	}

	f, err := os.Create(local)
	if err != nil {
		return nil, uperrors.NewError("addFile", err).WithPath(logicalPath)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, uperrors.NewError("addFile", err).WithPath(logicalPath)
	}

	updated, ok := m.store.Update(id, func(s *Session) *Session {
		if !s.Status.acceptsFiles() {
			return nil // raced with a processing transition, keep as-is
		}
		s.Status = StatusReceiving
		s.Files = append(s.Files, ReceivedFile{
			LogicalPath: logicalPath,
			Size:        size,
			localPath:   local,
		})
		s.UpdatedAt = time.Now()
		return s
	})
	if !ok {
		return nil, uperrors.ErrSessionNotFound
	}
	if !updated.Status.acceptsFiles() {
		return nil, fmt.Errorf("%w: session is %s", uperrors.ErrSessionConflict, updated.Status)
	}
	return updated, nil
}

// Process transitions the session to processing and starts the batch upload
// in the background. The caller polls Get for the outcome.
func (m *Manager) Process(id string, opts ...uptypes.BatchOption) (*Session, error) {
	if _, err := m.Get(id); err != nil {
		return nil, err
	}

	var conflict Status
	updated, ok := m.store.Update(id, func(s *Session) *Session {
		if !s.Status.acceptsFiles() {
			conflict = s.Status
			return nil
		}
		s.Status = StatusProcessing
		s.UpdatedAt = time.Now()
		return s
	})
	if !ok {
		return nil, uperrors.ErrSessionNotFound
	}
	if conflict != "" {
		return nil, fmt.Errorf("%w: session is %s", uperrors.ErrSessionConflict, conflict)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()

	go m.run(ctx, updated, opts)
	return updated, nil
}

// run executes the batch upload for one session and records the outcome.
// If the session was cancelled while the run was in flight, the result is
// discarded.
func (m *Manager) run(ctx context.Context, s *Session, opts []uptypes.BatchOption) {
	defer func() {
		m.mu.Lock()
		delete(m.cancels, s.ID)
		m.mu.Unlock()
	}()

	tasks := make([]*uptypes.UploadTask, 0, len(s.Files))
	var readErrs []string
	for _, f := range s.Files {
		data, err := os.ReadFile(f.localPath)
		if err != nil {
			readErrs = append(readErrs, fmt.Sprintf("%s: %v", f.LogicalPath, err))
			continue
		}
		tasks = append(tasks, &uptypes.UploadTask{
			LogicalPath: f.LogicalPath,
			Body:        data,
			Size:        f.Size,
			Status:      uptypes.TaskPending,
		})
	}

	// Stream progress into the store so a polling caller sees the run
	// advance, not a zero snapshot until the terminal write.
	opts = append(opts, func(c *uptypes.BatchOptionConfig) {
		c.Observer = &progressWriter{store: m.store, id: s.ID}
	})

	result, err := m.runner.UploadBatch(ctx, tasks, opts...)

	m.store.Update(s.ID, func(cur *Session) *Session {
		if cur.Status != StatusProcessing {
			return nil // cancelled mid-flight, drop the result
		}
		cur.Errors = append(cur.Errors, readErrs...)
		cur.Result = result
		if result != nil {
			cur.Progress = uptypes.Progress{
				TotalFiles:     len(cur.Files),
				FilesCompleted: result.FilesUploaded,
				FilesFailed:    result.FilesFailed,
				TotalBytes:     cur.totalSize(),
				BytesUploaded:  result.BytesUploaded,
			}
			for _, f := range result.Failed {
				cur.Errors = append(cur.Errors, fmt.Sprintf("%s: %s", f.LogicalPath, f.Error))
			}
		}
		if err != nil {
			cur.Status = StatusFailed
			cur.Errors = append(cur.Errors, err.Error())
		} else {
			cur.Status = StatusCompleted
		}
		cur.UpdatedAt = time.Now()
		return cur
	})

	if err != nil {
		m.log.Warn("session run failed", zap.String("session_id", s.ID), zap.Error(err))
	} else {
		m.log.Info("session run completed", zap.String("session_id", s.ID))
	}

	m.removeStorage(s)
	time.AfterFunc(m.grace, func() { m.store.Delete(s.ID) })
}

// Cancel forces a non-terminal session to cancelled, stops its in-flight
// run, and removes its backing storage. The record stays readable until the
// grace period passes.
func (m *Manager) Cancel(id string) (*Session, error) {
	var was Status
	updated, ok := m.store.Update(id, func(s *Session) *Session {
		was = s.Status
		if s.Status.Terminal() {
			return nil
		}
		s.Status = StatusCancelled
		s.UpdatedAt = time.Now()
		return s
	})
	if !ok {
		return nil, uperrors.ErrSessionNotFound
	}
	if was.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", uperrors.ErrSessionConflict, was)
	}

	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()

	m.removeStorage(updated)
	time.AfterFunc(m.grace, func() { m.store.Delete(id) })
	m.log.Info("session cancelled", zap.String("session_id", id))
	return updated, nil
}

// Sweep deletes every session whose expiry has passed, regardless of
// status. It returns how many sessions were collected.
func (m *Manager) Sweep() int {
	now := time.Now()
	var expired []*Session
	m.store.Range(func(s *Session) bool {
		if now.After(s.ExpiresAt) {
			expired = append(expired, s)
		}
		return true
	})

	for _, s := range expired {
		m.mu.Lock()
		if cancel, ok := m.cancels[s.ID]; ok {
			cancel()
			delete(m.cancels, s.ID)
		}
		m.mu.Unlock()

		m.removeStorage(s)
		m.store.Delete(s.ID)
		m.log.Info("session expired", zap.String("session_id", s.ID))
	}
	return len(expired)
}

// Run drives the expiry sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// progressWriter publishes batch progress events onto the session record.
// Updates arrive sequentially from the scheduler's settle dispatch; each
// replaces the whole snapshot atomically and is dropped once the session
// has left processing.
type progressWriter struct {
	store Store
	id    string
}

func (w *progressWriter) Update(p uptypes.Progress) {
	w.store.Update(w.id, func(s *Session) *Session {
		if s.Status != StatusProcessing {
			return nil
		}
		s.Progress = p
		s.UpdatedAt = time.Now()
		return s
	})
}

func (m *Manager) removeStorage(s *Session) {
	if s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		m.log.Warn("removing session storage",
			zap.String("session_id", s.ID), zap.Error(err))
	}
}

// safeJoin resolves logical under dir, refusing paths that would escape it.
func safeJoin(dir, logical string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(logical))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: illegal path %q", uperrors.ErrInvalidInput, logical)
	}
	return filepath.Join(dir, cleaned), nil
}
