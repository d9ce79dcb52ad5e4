package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process BlobStore for local runs and tests
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory blob store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Put stores a copy of data at path
func (s *MemoryStore) Put(_ context.Context, path string, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.blobs[path] = buf
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the blob at path
func (s *MemoryStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[path]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	_, ok := s.blobs[path]
	s.mu.RUnlock()
	return ok, nil
}

// Delete removes the blob at path; absent paths are ignored
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	delete(s.blobs, path)
	s.mu.Unlock()
	return nil
}
