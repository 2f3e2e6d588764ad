package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage keeps every generation in process memory.
type MemoryStorage struct {
	mu          sync.RWMutex
	generations map[string]*memoryStore
	order       []string
}

// NewMemory creates an empty in-memory storage
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		generations: make(map[string]*memoryStore),
	}
}

func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	if name == "" {
		return nil, fmt.Errorf("generation name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.generations[name]
	if !ok {
		store = &memoryStore{name: name, entries: make(map[string][]byte)}
		m.generations[name] = store
		m.order = append(m.order, name)
	}
	return store, nil
}

func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.generations[name]
	return ok, nil
}

// Keys returns generation names in creation order
func (m *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	store, ok := m.generations[name]
	if !ok {
		return false, nil
	}
	store.mu.Lock()
	store.deleted = true
	store.entries = nil
	store.mu.Unlock()
	delete(m.generations, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[string][]byte
	deleted bool
}

func (s *memoryStore) Name() string {
	return s.name
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return ErrGenerationDeleted
	}
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
