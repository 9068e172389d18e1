// Package lifecycle holds the theft state of a device:
//
//	unknown ──first registration──▶ registered ──owner report──▶ stolen
//
// Stolen is terminal here; clearing it is an administrative action outside
// this service. Status is derived: a device is stolen iff a Record exists.
package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"ghosttrack/internal/apperr"
	"ghosttrack/internal/identity"
	"ghosttrack/internal/validate"
)

type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusRegistered Status = "registered"
	StatusStolen     Status = "stolen"
)

var ErrNotStolen = errors.New("device not reported stolen")

// Record is the stolen-device record. Created once per hardware id.
type Record struct {
	HardwareID    string
	AccountID     string
	ReportedAt    time.Time
	RecoveryEmail string
	RecoveryPhone string
}

type Contact struct {
	Email string
	Phone string
}

// Store persists stolen records.
type Store interface {
	// MarkStolen inserts rec unless a record for rec.HardwareID exists. It
	// reports whether this call created it and returns the stored record.
	// Must be atomic per hardware id.
	MarkStolen(ctx context.Context, rec Record) (Record, bool, error)
	// Find returns ErrNotStolen when no record exists.
	Find(ctx context.Context, hardwareID string) (Record, error)
}

// DeviceFinder is the slice of the identity registry the machine needs.
type DeviceFinder interface {
	Resolve(ctx context.Context, hardwareID string) (identity.Device, error)
}

type Machine struct {
	devices DeviceFinder
	store   Store
	now     func() time.Time
}

func NewMachine(devices DeviceFinder, store Store) *Machine {
	if store == nil {
		store = NewMemStore()
	}
	return &Machine{devices: devices, store: store, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) StatusOf(ctx context.Context, hardwareID string) (Status, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return StatusUnknown, apperr.Validation("hardware id required")
	}
	if _, err := m.store.Find(ctx, hardwareID); err == nil {
		return StatusStolen, nil
	} else if !errors.Is(err, ErrNotStolen) {
		return StatusUnknown, apperr.Internal("lookup stolen record", err)
	}
	_, err := m.devices.Resolve(ctx, hardwareID)
	switch {
	case err == nil:
		return StatusRegistered, nil
	case errors.Is(err, apperr.ErrNotFound):
		return StatusUnknown, nil
	default:
		return StatusUnknown, err
	}
}

// IsStolen is StatusOf reduced to the one question the stealthy paths ask.
func (m *Machine) IsStolen(ctx context.Context, hardwareID string) (bool, error) {
	_, err := m.store.Find(ctx, hardwareID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotStolen) {
		return false, nil
	}
	return false, apperr.Internal("lookup stolen record", err)
}

func (m *Machine) Record(ctx context.Context, hardwareID string) (Record, bool, error) {
	rec, err := m.store.Find(ctx, hardwareID)
	if errors.Is(err, ErrNotStolen) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, apperr.Internal("lookup stolen record", err)
	}
	return rec, true, nil
}

// ReportStolen moves a registered device to stolen. Re-reporting is a no-op
// success that returns the original record; created tells the two apart.
func (m *Machine) ReportStolen(ctx context.Context, hardwareID string, contact Contact) (Record, bool, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return Record{}, false, apperr.Validation("hardware id required")
	}
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Email == "" {
		return Record{}, false, apperr.Validation("recovery email required")
	}
	if err := validate.Var("email", contact.Email, "email,max=254"); err != nil {
		return Record{}, false, err
	}

	dev, err := m.devices.Resolve(ctx, hardwareID)
	if err != nil {
		return Record{}, false, err
	}

	rec, created, err := m.store.MarkStolen(ctx, Record{
		HardwareID:    hardwareID,
		AccountID:     dev.AccountID,
		ReportedAt:    m.now().UTC(),
		RecoveryEmail: contact.Email,
		RecoveryPhone: contact.Phone,
	})
	if err != nil {
		return Record{}, false, apperr.Internal("mark stolen", err)
	}
	return rec, created, nil
}
