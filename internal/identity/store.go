package identity

import (
	"context"
	"errors"
	"time"
)

var ErrDeviceNotFound = errors.New("device not found")

// Store is the persistence contract behind the identity registry.
type Store interface {
	// Find returns ErrDeviceNotFound when no row exists for hardwareID.
	Find(ctx context.Context, hardwareID string) (Device, error)
	// Upsert creates the device or refreshes it. See UpsertResult for the
	// owner mismatch rule.
	Upsert(ctx context.Context, hardwareID, accountID string, info Info, now time.Time) (UpsertResult, error)
	// Touch refreshes LastSeenAt only.
	Touch(ctx context.Context, hardwareID string, now time.Time) error

	// Link inserts or replaces the mapping for l.OriginalID unless the stored
	// mapping has a newer UpdatedAt.
	Link(ctx context.Context, l Link) error
	Successor(ctx context.Context, originalID string) (string, bool, error)
	Predecessor(ctx context.Context, currentID string) (string, bool, error)

	RecordReset(ctx context.Context, ev ResetEvent) error
	ListResets(ctx context.Context, originalID string) ([]ResetEvent, error)
}
