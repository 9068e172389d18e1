// Package commands is the per-device FIFO of owner-issued remote actions.
//
// A command goes pending -> executed exactly once. Devices poll for pending
// commands and acknowledge them; acknowledgment is a conditional update, so
// retries and concurrent acknowledgments of the same id are harmless.
package commands

import (
	"context"
	"errors"
	"strings"
	"time"

	"ghosttrack/internal/apperr"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusExecuted Status = "executed"
)

var ErrCommandNotFound = errors.New("command not found")

type Command struct {
	ID              uint64
	HardwareID      string
	IssuerAccountID string
	Kind            Kind
	Payload         Payload
	IssuedAt        time.Time
	Status          Status
	ExecutedAt      *time.Time
	Result          map[string]any
}

type Store interface {
	// Create assigns cmd.ID, monotonically increasing.
	Create(ctx context.Context, cmd *Command) error
	// Pending returns pending commands of one device, IssuedAt asc then ID asc.
	Pending(ctx context.Context, hardwareID string) ([]Command, error)
	// MarkExecuted moves id from pending to executed in one atomic step and
	// reports whether this call did it.
	MarkExecuted(ctx context.Context, id uint64, result map[string]any, at time.Time) (bool, error)
	Find(ctx context.Context, id uint64) (Command, error)
}

// OwnerLookup returns the owner of record of a device.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, hardwareID string) (string, error)
}

// PasswordVerifier re-checks an account password (second factor).
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, accountID, password string) error
}

type Request struct {
	HardwareID      string
	IssuerAccountID string
	Kind            Kind
	Payload         Payload
	Password        string
}

type Queue struct {
	store  Store
	owners OwnerLookup
	pw     PasswordVerifier
	now    func() time.Time
}

func NewQueue(store Store, owners OwnerLookup, pw PasswordVerifier) *Queue {
	if store == nil {
		store = NewMemStore()
	}
	return &Queue{store: store, owners: owners, pw: pw, now: time.Now}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue authorizes the issuer against the current owner of record and
// stores a pending command.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Command, error) {
	req.HardwareID = strings.TrimSpace(req.HardwareID)
	if req.HardwareID == "" {
		return Command{}, apperr.Validation("hardware id required")
	}
	def, ok := Lookup(req.Kind)
	if !ok {
		return Command{}, apperr.Validation("unknown command type %q", req.Kind)
	}

	// Step 1: ownership. Unknown devices get the same answer as foreign ones.
	owner, err := q.owners.OwnerOf(ctx, req.HardwareID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return Command{}, err
	}
	if err != nil || req.IssuerAccountID == "" || owner != req.IssuerAccountID {
		return Command{}, apperr.Unauthorized("not authorized to control this device")
	}

	// Step 2: second factor
	if def.SecondFactor {
		if req.Password == "" {
			return Command{}, apperr.Forbidden("password required for " + string(def.Kind))
		}
		if q.pw == nil {
			return Command{}, apperr.Forbidden("second factor unavailable")
		}
		if err := q.pw.VerifyPassword(ctx, req.IssuerAccountID, req.Password); err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				return Command{}, err
			}
			return Command{}, apperr.Forbidden("invalid password")
		}
	}

	// Step 3: payload
	payload, err := def.Normalize(req.Payload)
	if err != nil {
		return Command{}, apperr.Validation("%s: %v", def.Kind, err)
	}

	cmd := Command{
		HardwareID:      req.HardwareID,
		IssuerAccountID: req.IssuerAccountID,
		Kind:            def.Kind,
		Payload:         payload,
		IssuedAt:        q.now().UTC(),
		Status:          StatusPending,
	}
	if err := q.store.Create(ctx, &cmd); err != nil {
		return Command{}, apperr.Internal("store command", err)
	}
	return cmd, nil
}

// PendingFor lists pending commands of hardwareID, oldest first.
func (q *Queue) PendingFor(ctx context.Context, hardwareID string) ([]Command, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return nil, apperr.Validation("hardware id required")
	}
	cmds, err := q.store.Pending(ctx, hardwareID)
	if err != nil {
		return nil, apperr.Internal("list pending commands", err)
	}
	return cmds, nil
}

// Acknowledge marks id executed. Unknown or already executed ids are a
// successful no-op; transitioned reports whether this call did the work.
func (q *Queue) Acknowledge(ctx context.Context, id uint64, result map[string]any) (transitioned bool, err error) {
	if id == 0 {
		return false, apperr.Validation("command id required")
	}
	ok, err := q.store.MarkExecuted(ctx, id, result, q.now().UTC())
	if err != nil {
		return false, apperr.Internal("acknowledge command", err)
	}
	return ok, nil
}

func (q *Queue) Get(ctx context.Context, id uint64) (Command, error) {
	c, err := q.store.Find(ctx, id)
	if errors.Is(err, ErrCommandNotFound) {
		return Command{}, apperr.NotFound("command not found")
	}
	if err != nil {
		return Command{}, apperr.Internal("find command", err)
	}
	return c, nil
}
