// Package blob provides an in-process video blob store.
package blob

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/veoanimator/server/internal/module/generation"
)

// MemoryStore keeps blobs in memory. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*generation.Blob
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*generation.Blob)}
}

// Put stores a copy of data and returns its handle.
func (s *MemoryStore) Put(_ context.Context, data []byte, mimeType string) (string, error) {
	handle := uuid.NewString()
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	s.blobs[handle] = &generation.Blob{Handle: handle, Data: stored, MIMEType: mimeType}
	s.mu.Unlock()

	return handle, nil
}

// Get returns the blob stored under handle.
func (s *MemoryStore) Get(_ context.Context, handle string) (*generation.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[handle]
	if !ok {
		return nil, generation.ErrBlobNotFound
	}
	return b, nil
}

// Delete removes a blob. Unknown handles are ignored.
func (s *MemoryStore) Delete(_ context.Context, handle string) error {
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Compile-time interface check
var _ generation.BlobStore = (*MemoryStore)(nil)
