package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"ghosttrack/internal/apperr"
	"ghosttrack/internal/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*identity.Registry, *Machine) {
	t.Helper()
	reg := identity.NewRegistry(identity.NewMemStore())
	_, err := reg.Upsert(context.Background(), "HW1", "A1", nil)
	require.NoError(t, err)
	return reg, NewMachine(reg, NewMemStore())
}

func TestStatusOf(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)

	st, err := m.StatusOf(ctx, "HW-unknown")
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, st)

	st, err = m.StatusOf(ctx, "HW1")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, st)

	_, _, err = m.ReportStolen(ctx, "HW1", Contact{Email: "owner@example.com"})
	require.NoError(t, err)

	st, err = m.StatusOf(ctx, "HW1")
	require.NoError(t, err)
	assert.Equal(t, StatusStolen, st)
}

func TestReportStolenIdempotent(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return t0 })

	rec, created, err := m.ReportStolen(ctx, "HW1", Contact{Email: "owner@example.com", Phone: "+100"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "A1", rec.AccountID)
	assert.Equal(t, t0, rec.ReportedAt)

	m.WithClock(func() time.Time { return t0.Add(time.Hour) })
	again, created, err := m.ReportStolen(ctx, "HW1", Contact{Email: "other@example.com"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec, again)
}

func TestReportStolenConcurrentConverges(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := m.ReportStolen(ctx, "HW1", Contact{Email: "owner@example.com"})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
}

func TestReportStolenValidation(t *testing.T) {
	ctx := context.Background()
	_, m := setup(t)

	tests := []struct {
		name    string
		id      string
		contact Contact
		want    error
	}{
		{"missing id", "", Contact{Email: "a@example.com"}, apperr.ErrValidation},
		{"missing email", "HW1", Contact{}, apperr.ErrValidation},
		{"bad email", "HW1", Contact{Email: "not-an-email"}, apperr.ErrValidation},
		{"unknown device", "HW404", Contact{Email: "a@example.com"}, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.ReportStolen(ctx, tt.id, tt.contact)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stolen, err := m.IsStolen(ctx, "HW1")
	require.NoError(t, err)
	assert.False(t, stolen)
}
