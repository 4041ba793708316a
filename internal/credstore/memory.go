package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Useful for tests and for
// deployments that supply a token inline and do not want persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]string)}
}

// Name returns "memory".
func (m *MemoryStore) Name() string {
	return "memory"
}

// Get returns the record stored under name.
func (m *MemoryStore) Get(_ context.Context, name string) (Record, error) {
	m.mu.RLock()
	raw, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return Unmarshal(raw)
}

// Put overwrites the record stored under name.
func (m *MemoryStore) Put(_ context.Context, name string, rec Record) error {
	raw, err := Marshal(rec)
	if err != nil {
		return &StoreError{Backend: m.Name(), Op: "put", Name: name, Err: err}
	}
	m.mu.Lock()
	m.records[name] = raw
	m.mu.Unlock()
	return nil
}

// NewMemoryStoreFactory adapts NewMemoryStore to the registry.
func NewMemoryStoreFactory(_ map[string]interface{}) (Store, error) {
	return NewMemoryStore(), nil
}
