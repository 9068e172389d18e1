package identity

import (
	"context"
	"maps"
	"sync"
	"time"
)

// ─────────────────────────── in-memory store (fallback) ───────────────────────────

type memStore struct {
	mu      sync.RWMutex
	devices map[string]Device
	links   map[string]Link // original -> link
	resets  []ResetEvent
	nextID  uint64
}

// NewMemStore returns a Store kept in process memory. Used when no database
// driver is configured and in tests.
func NewMemStore() Store {
	return &memStore{
		devices: make(map[string]Device),
		links:   make(map[string]Link),
	}
}

func (m *memStore) Find(_ context.Context, hardwareID string) (Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[hardwareID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	d.Info = maps.Clone(d.Info)
	return d, nil
}

func (m *memStore) Upsert(_ context.Context, hardwareID, accountID string, info Info, now time.Time) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[hardwareID]
	if !ok {
		d = Device{
			HardwareID:  hardwareID,
			AccountID:   accountID,
			FirstSeenAt: now,
			LastSeenAt:  now,
			Info:        maps.Clone(info),
		}
		m.devices[hardwareID] = d
		return UpsertResult{Device: d, Created: true}, nil
	}

	d.LastSeenAt = now
	res := UpsertResult{}
	if d.AccountID != accountID {
		res.OwnerMismatch = true
		res.PriorOwner = d.AccountID
	} else if info != nil {
		d.Info = maps.Clone(info)
	}
	m.devices[hardwareID] = d
	res.Device = d
	res.Device.Info = maps.Clone(d.Info)
	return res, nil
}

func (m *memStore) Touch(_ context.Context, hardwareID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[hardwareID]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastSeenAt = now
	m.devices[hardwareID] = d
	return nil
}

func (m *memStore) Link(_ context.Context, l Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.links[l.OriginalID]; ok && cur.UpdatedAt.After(l.UpdatedAt) {
		return nil
	}
	m.links[l.OriginalID] = l
	return nil
}

func (m *memStore) Successor(_ context.Context, originalID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[originalID]
	if !ok {
		return "", false, nil
	}
	return l.CurrentID, true, nil
}

func (m *memStore) Predecessor(_ context.Context, currentID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best Link
	found := false
	for _, l := range m.links {
		if l.CurrentID != currentID {
			continue
		}
		if !found || l.UpdatedAt.After(best.UpdatedAt) {
			best, found = l, true
		}
	}
	return best.OriginalID, found, nil
}

func (m *memStore) RecordReset(_ context.Context, ev ResetEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ev.ID = m.nextID
	ev.Info = maps.Clone(ev.Info)
	m.resets = append(m.resets, ev)
	return nil
}

func (m *memStore) ListResets(_ context.Context, originalID string) ([]ResetEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ResetEvent
	for _, ev := range m.resets {
		if ev.OriginalHardwareID == originalID {
			out = append(out, ev)
		}
	}
	return out, nil
}
