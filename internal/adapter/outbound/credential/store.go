// Package credential keeps user supplied provider keys and exposes them to
// sessions through the credential capability.
package credential

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoStagedKey is returned when a selection is confirmed with nothing staged.
var ErrNoStagedKey = errors.New("no API key staged")

// KeyStore holds staged and selected keys per session.
type KeyStore interface {
	// Stage records a key offered by the user without selecting it.
	Stage(ctx context.Context, sessionID, key string) error
	// Promote selects the staged key. Returns ErrNoStagedKey if none is staged.
	Promote(ctx context.Context, sessionID string) error
	// Selected returns the selected key, or "" when none is selected.
	Selected(ctx context.Context, sessionID string) (string, error)
	// Clear removes staged and selected keys.
	Clear(ctx context.Context, sessionID string) error
}

type entry struct {
	key     string
	expires time.Time
}

func (e entry) live(now time.Time) bool {
	return e.key != "" && (e.expires.IsZero() || now.Before(e.expires))
}

// MemoryKeyStore is a KeyStore for single-process deployments.
type MemoryKeyStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	pending  map[string]entry
	selected map[string]entry
	now      func() time.Time
}

// NewMemoryKeyStore creates a memory key store. A zero ttl keeps keys until cleared.
func NewMemoryKeyStore(ttl time.Duration) *MemoryKeyStore {
	return &MemoryKeyStore{
		ttl:      ttl,
		pending:  make(map[string]entry),
		selected: make(map[string]entry),
		now:      time.Now,
	}
}

func (s *MemoryKeyStore) newEntry(key string) entry {
	e := entry{key: key}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}
	return e
}

// Stage implements KeyStore.
func (s *MemoryKeyStore) Stage(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[sessionID] = s.newEntry(key)
	return nil
}

// Promote implements KeyStore.
func (s *MemoryKeyStore) Promote(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[sessionID]
	delete(s.pending, sessionID)
	if !ok || !e.live(s.now()) {
		return ErrNoStagedKey
	}
	s.selected[sessionID] = s.newEntry(e.key)
	return nil
}

// Selected implements KeyStore.
func (s *MemoryKeyStore) Selected(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.selected[sessionID]
	if !ok {
		return "", nil
	}
	if !e.live(s.now()) {
		delete(s.selected, sessionID)
		return "", nil
	}
	return e.key, nil
}

// Clear implements KeyStore.
func (s *MemoryKeyStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, sessionID)
	delete(s.selected, sessionID)
	return nil
}

// Compile-time interface check
var _ KeyStore = (*MemoryKeyStore)(nil)
