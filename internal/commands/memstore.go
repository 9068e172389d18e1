package commands

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	mu     sync.Mutex
	byID   map[uint64]*Command
	nextID uint64
}

func NewMemStore() Store {
	return &memStore{byID: make(map[uint64]*Command)}
}

func (m *memStore) Create(_ context.Context, cmd *Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cmd.ID = m.nextID
	c := *cmd
	c.Payload = maps.Clone(cmd.Payload)
	m.byID[c.ID] = &c
	return nil
}

func (m *memStore) Pending(_ context.Context, hardwareID string) ([]Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Command{}
	for _, c := range m.byID {
		if c.HardwareID == hardwareID && c.Status == StatusPending {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) MarkExecuted(_ context.Context, id uint64, result map[string]any, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.Status != StatusPending {
		return false, nil
	}
	c.Status = StatusExecuted
	c.ExecutedAt = &at
	c.Result = maps.Clone(result)
	return true, nil
}

func (m *memStore) Find(_ context.Context, id uint64) (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return Command{}, ErrCommandNotFound
	}
	return clone(c), nil
}

func clone(c *Command) Command {
	out := *c
	out.Payload = maps.Clone(c.Payload)
	out.Result = maps.Clone(c.Result)
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		out.ExecutedAt = &t
	}
	return out
}
