package ledger

import (
	"context"
	"sort"
	"sync"
)

type memStore struct {
	mu     sync.RWMutex
	byDev  map[string][]Record
	nextID uint64
}

func NewMemStore() Store {
	return &memStore{byDev: make(map[string][]Record)}
}

func (m *memStore) Append(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.byDev[rec.HardwareID] = append(m.byDev[rec.HardwareID], *rec)
	return nil
}

func (m *memStore) Recent(_ context.Context, hardwareID string, limit int) ([]Record, error) {
	m.mu.RLock()
	src := m.byDev[hardwareID]
	out := make([]Record, len(src))
	copy(out, src)
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
