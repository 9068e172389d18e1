// Package whereabouts keeps the owner's own reported positions (the phone
// running the owner app), separate from the stolen-device ledger.
package whereabouts

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"ghosttrack/internal/apperr"
	"ghosttrack/internal/ledger"
)

var ErrNoFix = errors.New("no location recorded")

type Fix struct {
	ID         uint64
	AccountID  string
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
}

type Store interface {
	// Save assigns fix.ID.
	Save(ctx context.Context, fix *Fix) error
	// Latest returns the newest fix by RecordedAt then ID, or ErrNoFix.
	Latest(ctx context.Context, accountID string) (Fix, error)
}

type Book struct {
	store Store
	now   func() time.Time
}

func NewBook(store Store) *Book {
	if store == nil {
		store = NewMemStore()
	}
	return &Book{store: store, now: time.Now}
}

// Save records a position for accountID. A zero at means now.
func (b *Book) Save(ctx context.Context, accountID string, lat, lon float64, at time.Time) (Fix, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Fix{}, apperr.Unauthorized("account required")
	}
	if !ledger.ValidCoordinates(lat, lon) {
		return Fix{}, apperr.Validation("coordinates out of valid range")
	}
	if at.IsZero() {
		at = b.now()
	}
	fix := Fix{AccountID: accountID, Latitude: lat, Longitude: lon, RecordedAt: at.UTC()}
	if err := b.store.Save(ctx, &fix); err != nil {
		return Fix{}, apperr.Internal("save location", err)
	}
	return fix, nil
}

// Latest returns the newest fix; ok is false when none was saved yet.
func (b *Book) Latest(ctx context.Context, accountID string) (Fix, bool, error) {
	fix, err := b.store.Latest(ctx, strings.TrimSpace(accountID))
	if errors.Is(err, ErrNoFix) {
		return Fix{}, false, nil
	}
	if err != nil {
		return Fix{}, false, apperr.Internal("latest location", err)
	}
	return fix, true, nil
}

type memStore struct {
	mu     sync.RWMutex
	byAcc  map[string][]Fix
	nextID uint64
}

func NewMemStore() Store {
	return &memStore{byAcc: make(map[string][]Fix)}
}

func (m *memStore) Save(_ context.Context, fix *Fix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	fix.ID = m.nextID
	m.byAcc[fix.AccountID] = append(m.byAcc[fix.AccountID], *fix)
	return nil
}

func (m *memStore) Latest(_ context.Context, accountID string) (Fix, error) {
	m.mu.RLock()
	fixes := append([]Fix(nil), m.byAcc[accountID]...)
	m.mu.RUnlock()
	if len(fixes) == 0 {
		return Fix{}, ErrNoFix
	}
	sort.Slice(fixes, func(i, j int) bool {
		if !fixes[i].RecordedAt.Equal(fixes[j].RecordedAt) {
			return fixes[i].RecordedAt.After(fixes[j].RecordedAt)
		}
		return fixes[i].ID > fixes[j].ID
	})
	return fixes[0], nil
}
