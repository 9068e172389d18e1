// Package evidence stores photos captured by a stolen device.
package evidence

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"ghosttrack/internal/apperr"
)

const DefaultMaxBytes = 2 << 20

type Photo struct {
	ID         uint64
	HardwareID string
	Data       string // base64, optionally a data: URL
	TakenAt    time.Time
}

type Store interface {
	AppendPhoto(ctx context.Context, p *Photo) error
	LatestPhoto(ctx context.Context, hardwareID string) (Photo, bool, error)
}

type Locker struct {
	store    Store
	maxBytes int
}

func NewLocker(store Store, maxBytes int) *Locker {
	if store == nil {
		store = NewMemStore()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Locker{store: store, maxBytes: maxBytes}
}

// Add validates and stores one photo.
func (l *Locker) Add(ctx context.Context, hardwareID, data string, at time.Time) (Photo, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	data = strings.TrimSpace(data)
	if hardwareID == "" || data == "" {
		return Photo{}, apperr.Validation("hardware id and photo data required")
	}
	raw := data
	if strings.HasPrefix(raw, "data:") {
		i := strings.Index(raw, ",")
		if i < 0 || !strings.Contains(raw[:i], ";base64") {
			return Photo{}, apperr.Validation("photo must be base64 encoded")
		}
		raw = raw[i+1:]
	}
	if base64.StdEncoding.DecodedLen(len(raw)) > l.maxBytes {
		return Photo{}, apperr.Validation("photo larger than %d bytes", l.maxBytes)
	}
	if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
		return Photo{}, apperr.Validation("photo must be base64 encoded")
	}
	if at.IsZero() {
		at = time.Now()
	}
	p := Photo{HardwareID: hardwareID, Data: data, TakenAt: at.UTC()}
	if err := l.store.AppendPhoto(ctx, &p); err != nil {
		return Photo{}, apperr.Internal("store photo", err)
	}
	return p, nil
}

func (l *Locker) Latest(ctx context.Context, hardwareID string) (Photo, bool, error) {
	p, ok, err := l.store.LatestPhoto(ctx, hardwareID)
	if err != nil {
		return Photo{}, false, apperr.Internal("read photo", err)
	}
	return p, ok, nil
}

// memStore хранит всю историю снимков, как и gorm-хранилище.
type memStore struct {
	mu     sync.RWMutex
	byDev  map[string][]Photo
	nextID uint64
}

func NewMemStore() Store {
	return &memStore{byDev: make(map[string][]Photo)}
}

func (m *memStore) AppendPhoto(_ context.Context, p *Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.byDev[p.HardwareID] = append(m.byDev[p.HardwareID], *p)
	return nil
}

// LatestPhoto: max по (TakenAt, ID).
func (m *memStore) LatestPhoto(_ context.Context, hardwareID string) (Photo, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		best  Photo
		found bool
	)
	for _, p := range m.byDev[hardwareID] {
		if !found || p.TakenAt.After(best.TakenAt) || (p.TakenAt.Equal(best.TakenAt) && p.ID > best.ID) {
			best, found = p, true
		}
	}
	return best, found, nil
}
