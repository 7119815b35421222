package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps objects in process. Used for local runs without S3 and in
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) StoreJSON(_ context.Context, objectKey string, payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("artifact payload is not valid json: %s", objectKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey] = bytes.Clone(bytes.TrimSpace(payload))
	return nil
}

func (s *MemoryStore) LoadJSON(_ context.Context, objectKey string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectKey)
	}
	return json.RawMessage(bytes.Clone(payload)), nil
}

func (s *MemoryStore) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[objectKey]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, objectKey)
	}
	delete(s.objects, objectKey)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) Close() error {
	return nil
}
