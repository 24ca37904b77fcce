package cache

import (
	"bytes"
	"context"
	"sync"
)

// MemoryStore keeps assets in process memory. Intended for tests and local
// development.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "/sprites"
	}
	return &MemoryStore{baseURL: baseURL, objects: make(map[string][]byte)}
}

// Exists implements Store.
func (m *MemoryStore) Exists(_ context.Context, key, name string) (bool, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[p]
	return ok, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key, name string) ([]byte, error) {
	p, err := ObjectPath(key, name)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[p]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, asset Asset) (string, error) {
	p, err := ObjectPath(asset.Key, asset.Name)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objects[p]; ok {
		if !bytes.Equal(existing, asset.Bytes) {
			return "", ErrConflict
		}
		return joinURL(m.baseURL, p), nil
	}
	m.objects[p] = append([]byte(nil), asset.Bytes...)
	return joinURL(m.baseURL, p), nil
}

// URL implements Store.
func (m *MemoryStore) URL(key, name string) string {
	p, err := ObjectPath(key, name)
	if err != nil {
		return ""
	}
	return joinURL(m.baseURL, p)
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Store = (*MemoryStore)(nil)
