// Package sessions provides session-scoped key/value storage for the
// dashboard gate. Each client session (one browser tab) gets its own
// isolated namespace, mirroring the tab's sessionStorage.
package sessions

import (
	"context"
	"sync"
)

// Storage is the key/value namespace of a single client session.
type Storage interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put writes all entries atomically.
	Put(ctx context.Context, entries map[string]string) error

	// Remove deletes the given keys atomically. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
}

// Store hands out per-session Storage namespaces.
type Store interface {
	// Scope returns the storage namespace for a session id.
	Scope(sessionID string) Storage

	// Drop deletes every entry of a session.
	Drop(ctx context.Context, sessionID string) error

	// Close releases all resources held by the store.
	Close() error
}

// MemoryStore is a thread-safe in-memory implementation of Store.
// Entries vanish when the process exits, like a closed tab's sessionStorage.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string // key: session ID
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Scope(sessionID string) Storage {
	return &memoryScope{store: s, id: sessionID}
}

// Drop removes a session and all of its entries.
func (s *MemoryStore) Drop(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of sessions holding at least one entry.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

type memoryScope struct {
	store *MemoryStore
	id    string
}

func (m *memoryScope) Get(_ context.Context, key string) (string, bool, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()

	v, ok := m.store.sessions[m.id][key]
	return v, ok, nil
}

func (m *memoryScope) Put(_ context.Context, entries map[string]string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	ns, ok := m.store.sessions[m.id]
	if !ok {
		ns = make(map[string]string, len(entries))
		m.store.sessions[m.id] = ns
	}
	for k, v := range entries {
		ns[k] = v
	}
	return nil
}

func (m *memoryScope) Remove(_ context.Context, keys ...string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	ns, ok := m.store.sessions[m.id]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ns, k)
	}
	if len(ns) == 0 {
		delete(m.store.sessions, m.id)
	}
	return nil
}
