package session

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Store holds live session records keyed by identifier. Implementations
// must apply Update atomically as a full-record replace so concurrent
// requests never interleave a stale read with a write.
type Store interface {
	// Put inserts or replaces a session record.
	Put(s *Session)

	// Get returns the current snapshot for id.
	Get(id string) (*Session, bool)

	// Update atomically replaces the record for id with the result of fn,
	// which receives a private copy it may mutate freely. Returning nil
	// from fn keeps the existing record. Update reports whether id existed.
	Update(id string, fn func(*Session) *Session) (*Session, bool)

	// Delete removes the record for id.
	Delete(id string)

	// Range calls fn for each live session until fn returns false.
	Range(fn func(*Session) bool)
}

// MemoryStore is the in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	sessions *xsync.MapOf[string, *Session]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: xsync.NewMapOf[string, *Session]()}
}

func (m *MemoryStore) Put(s *Session) {
	m.sessions.Store(s.ID, s)
}

func (m *MemoryStore) Get(id string) (*Session, bool) {
	return m.sessions.Load(id)
}

func (m *MemoryStore) Update(id string, fn func(*Session) *Session) (*Session, bool) {
	var found bool
	updated, _ := m.sessions.Compute(id, func(old *Session, loaded bool) (*Session, bool) {
		if !loaded {
			return nil, true // no record, do not materialize one
		}
		found = true
		next := fn(old.clone())
		if next == nil {
			return old, false
		}
		return next, false
	})
	if !found {
		return nil, false
	}
	return updated, true
}

func (m *MemoryStore) Delete(id string) {
	m.sessions.Delete(id)
}

func (m *MemoryStore) Range(fn func(*Session) bool) {
	m.sessions.Range(func(_ string, s *Session) bool {
		return fn(s)
	})
}
