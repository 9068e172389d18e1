package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ghosttrack/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestUpsertCreatesThenRefreshes(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	reg := NewRegistry(NewMemStore(), WithClock(func() time.Time { return now }))

	res, err := reg.Upsert(ctx, "HW1", "A1", Info{"model": "Pixel"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.OwnerMismatch)
	assert.Equal(t, t0, res.Device.FirstSeenAt)

	now = t0.Add(time.Hour)
	res, err = reg.Upsert(ctx, "HW1", "A1", Info{"model": "Pixel 9"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "Pixel 9", res.Device.Info.String("model"))
	assert.Equal(t, t0, res.Device.FirstSeenAt)
	assert.Equal(t, now, res.Device.LastSeenAt)
}

func TestUpsertOwnerMismatchIsPassive(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	now := t0
	reg := NewRegistry(NewMemStore(), WithClock(func() time.Time { return now }))

	_, err := reg.Upsert(ctx, "HW1", "A1", Info{"model": "Pixel"})
	require.NoError(t, err)

	now = t0.Add(time.Minute)
	res, err := reg.Upsert(ctx, "HW1", "A2", Info{"model": "Fake"})
	require.NoError(t, err)
	assert.True(t, res.OwnerMismatch)
	assert.Equal(t, "A1", res.PriorOwner)

	d, err := reg.Resolve(ctx, "HW1")
	require.NoError(t, err)
	assert.Equal(t, "A1", d.AccountID)
	assert.Equal(t, "Pixel", d.Info.String("model"))
	assert.Equal(t, now, d.LastSeenAt)
}

func TestResolveErrors(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = reg.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = reg.Upsert(context.Background(), "HW1", "", nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResolveCanonicalChains(t *testing.T) {
	ctx := context.Background()
	for k := 0; k <= 5; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			reg := NewRegistry(NewMemStore())
			at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < k; i++ {
				require.NoError(t, reg.Relink(ctx, fmt.Sprintf("ID%d", i), fmt.Sprintf("ID%d", i+1), at))
			}
			got, err := reg.ResolveCanonical(ctx, "ID0")
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("ID%d", k), got)

			origin, err := reg.ResolveOrigin(ctx, fmt.Sprintf("ID%d", k))
			require.NoError(t, err)
			assert.Equal(t, "ID0", origin)
		})
	}
}

func TestResolveCanonicalTerminatesOnCycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	at := time.Now()
	// Written straight to the store: the registry refuses self links but a
	// longer cycle can still arrive through separate reports.
	require.NoError(t, store.Link(ctx, Link{OriginalID: "A", CurrentID: "B", UpdatedAt: at}))
	require.NoError(t, store.Link(ctx, Link{OriginalID: "B", CurrentID: "C", UpdatedAt: at}))
	require.NoError(t, store.Link(ctx, Link{OriginalID: "C", CurrentID: "A", UpdatedAt: at}))
	reg := NewRegistry(store)

	got, err := reg.ResolveCanonical(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "C", got)

	origin, err := reg.ResolveOrigin(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "B", origin)
}

func TestResolveCanonicalHopLimit(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore(), WithMaxChainHops(3))
	at := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, reg.Relink(ctx, fmt.Sprintf("ID%d", i), fmt.Sprintf("ID%d", i+1), at))
	}
	got, err := reg.ResolveCanonical(ctx, "ID0")
	require.NoError(t, err)
	assert.Equal(t, "ID3", got)
}

func TestRelinkLastWriteWins(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore())
	t1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, reg.Relink(ctx, "OLD", "NEW2", t2))
	require.NoError(t, reg.Relink(ctx, "OLD", "NEW1", t1)) // stale, ignored

	got, err := reg.ResolveCanonical(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, "NEW2", got)

	assert.ErrorIs(t, reg.Relink(ctx, "X", "X", t1), apperr.ErrValidation)
}

func TestRecordResetAudit(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore(), WithClock(fixedClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, reg.RecordReset(ctx, ResetEvent{OriginalHardwareID: "HW1", NewHardwareID: "HW2"}))
	require.NoError(t, reg.RecordReset(ctx, ResetEvent{OriginalHardwareID: "HW1", NewHardwareID: "HW3"}))

	evs, err := reg.Resets(ctx, "HW1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "HW2", evs[0].NewHardwareID)
	assert.False(t, evs[0].DetectedAt.IsZero())
	assert.Less(t, evs[0].ID, evs[1].ID)
}

func TestInfoPosition(t *testing.T) {
	info := Info{"lastKnownPosition": map[string]any{"latitude": 10.5, "longitude": float64(-20)}}
	lat, lon, ok := info.Position("lastKnownPosition")
	assert.True(t, ok)
	assert.Equal(t, 10.5, lat)
	assert.Equal(t, -20.0, lon)

	_, _, ok = Info{"lastKnownPosition": map[string]any{"latitude": "x"}}.Position("lastKnownPosition")
	assert.False(t, ok)
	_, _, ok = Info(nil).Position("lastKnownPosition")
	assert.False(t, ok)
}
