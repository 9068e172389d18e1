// Package identity maps hardware identifiers to devices and owning accounts,
// and keeps the chain of identifiers a unit goes through across factory resets.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"ghosttrack/internal/apperr"
)

const DefaultMaxChainHops = 64

// Registry is the identity store seen by the rest of the core.
type Registry struct {
	store   Store
	maxHops int
	now     func() time.Time
}

type Option func(*Registry)

func WithMaxChainHops(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxHops = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemStore()
	}
	r := &Registry{store: store, maxHops: DefaultMaxChainHops, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve looks a device up by its exact hardware identifier.
func (r *Registry) Resolve(ctx context.Context, hardwareID string) (Device, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return Device{}, apperr.Validation("hardware id required")
	}
	d, err := r.store.Find(ctx, hardwareID)
	if errors.Is(err, ErrDeviceNotFound) {
		return Device{}, apperr.NotFound("device not found")
	}
	if err != nil {
		return Device{}, apperr.Internal("resolve device", err)
	}
	return d, nil
}

// ResolveCanonical follows original -> current links to the latest successor.
// An id with no link resolves to itself. A cyclic chain stops at the last id
// reached before an id repeats.
func (r *Registry) ResolveCanonical(ctx context.Context, hardwareID string) (string, error) {
	return r.walk(ctx, hardwareID, r.store.Successor)
}

// ResolveOrigin walks the chain backwards to the first identifier the unit
// was known under.
func (r *Registry) ResolveOrigin(ctx context.Context, hardwareID string) (string, error) {
	return r.walk(ctx, hardwareID, r.store.Predecessor)
}

func (r *Registry) walk(ctx context.Context, id string, next func(context.Context, string) (string, bool, error)) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.Validation("hardware id required")
	}
	seen := map[string]struct{}{id: {}}
	cur := id
	for hop := 0; hop < r.maxHops; hop++ {
		n, ok, err := next(ctx, cur)
		if err != nil {
			return "", apperr.Internal("resolve identity chain", err)
		}
		if !ok || n == "" {
			return cur, nil
		}
		if _, dup := seen[n]; dup {
			return cur, nil
		}
		seen[n] = struct{}{}
		cur = n
	}
	return cur, nil
}

// Upsert registers or refreshes a device. A claimed owner different from the
// stored one is not an error: the result carries the mismatch and prior owner.
func (r *Registry) Upsert(ctx context.Context, hardwareID, accountID string, info Info) (UpsertResult, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	accountID = strings.TrimSpace(accountID)
	if hardwareID == "" {
		return UpsertResult{}, apperr.Validation("hardware id required")
	}
	if accountID == "" {
		return UpsertResult{}, apperr.Validation("account id required")
	}
	res, err := r.store.Upsert(ctx, hardwareID, accountID, info, r.now().UTC())
	if err != nil {
		return UpsertResult{}, apperr.Internal("upsert device", err)
	}
	return res, nil
}

// Touch refreshes LastSeenAt of a known device.
func (r *Registry) Touch(ctx context.Context, hardwareID string) error {
	err := r.store.Touch(ctx, hardwareID, r.now().UTC())
	if errors.Is(err, ErrDeviceNotFound) {
		return apperr.NotFound("device not found")
	}
	return apperr.Internal("touch device", err)
}

// Relink points originalID at newID. Self links are rejected; they would make
// the chain ambiguous.
func (r *Registry) Relink(ctx context.Context, originalID, newID string, at time.Time) error {
	originalID, newID = strings.TrimSpace(originalID), strings.TrimSpace(newID)
	if originalID == "" || newID == "" {
		return apperr.Validation("both hardware ids required")
	}
	if originalID == newID {
		return apperr.Validation("hardware id cannot succeed itself")
	}
	if at.IsZero() {
		at = r.now().UTC()
	}
	return apperr.Internal("link hardware ids", r.store.Link(ctx, Link{OriginalID: originalID, CurrentID: newID, UpdatedAt: at}))
}

func (r *Registry) RecordReset(ctx context.Context, ev ResetEvent) error {
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = r.now().UTC()
	}
	return apperr.Internal("record factory reset", r.store.RecordReset(ctx, ev))
}

func (r *Registry) Resets(ctx context.Context, originalID string) ([]ResetEvent, error) {
	evs, err := r.store.ListResets(ctx, originalID)
	if err != nil {
		return nil, apperr.Internal("list factory resets", err)
	}
	return evs, nil
}

// OwnerOf returns the owning account of hardwareID.
func (r *Registry) OwnerOf(ctx context.Context, hardwareID string) (string, error) {
	d, err := r.Resolve(ctx, hardwareID)
	if err != nil {
		return "", err
	}
	return d.AccountID, nil
}
