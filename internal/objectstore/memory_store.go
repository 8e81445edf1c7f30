package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when a key is not present in a store.
var ErrNotFound = errors.New("object not found")

// MemoryStore keeps objects in process memory. It is the default backend:
// session audio never outlives the process.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Download returns a copy of the stored bytes.
func (m *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrNotFound, key)
	}

	return append([]byte(nil), data...), nil
}

// Upload stores a copy of data under key.
func (m *MemoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = append([]byte(nil), data...)

	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}
