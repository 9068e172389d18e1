package lifecycle

import (
	"context"
	"sync"
)

type memStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemStore() Store {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) MarkStolen(_ context.Context, rec Record) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.records[rec.HardwareID]; ok {
		return cur, false, nil
	}
	m.records[rec.HardwareID] = rec
	return rec, true, nil
}

func (m *memStore) Find(_ context.Context, hardwareID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[hardwareID]
	if !ok {
		return Record{}, ErrNotStolen
	}
	return rec, nil
}
