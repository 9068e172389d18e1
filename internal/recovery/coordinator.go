// Package recovery orchestrates identity, theft state, the location ledger,
// evidence and the command queue in response to owner and device events.
//
// Device-facing entry points (CheckIn, FactoryReset, UploadPhoto) return
// errors for logging only; their HTTP layer never surfaces them.
package recovery

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"ghosttrack/internal/apperr"
	"ghosttrack/internal/commands"
	"ghosttrack/internal/evidence"
	"ghosttrack/internal/identity"
	"ghosttrack/internal/ledger"
	"ghosttrack/internal/lifecycle"
	"ghosttrack/internal/logs"

	"github.com/sirupsen/logrus"
)

// Outcome of a device registration as seen by the authenticated caller.
type Outcome string

const (
	OutcomeRegistered    Outcome = "registered"
	OutcomeStolenRecover Outcome = "stolen_recovery_mode"
	OutcomeNotRegistered Outcome = "not_registered"
)

const positionKey = "lastKnownPosition"

type Coordinator struct {
	devices  *identity.Registry
	states   *lifecycle.Machine
	ledger   *ledger.Ledger
	queue    *commands.Queue
	evidence *evidence.Locker
	now      func() time.Time
}

func NewCoordinator(devices *identity.Registry, states *lifecycle.Machine, led *ledger.Ledger, queue *commands.Queue, ev *evidence.Locker) *Coordinator {
	return &Coordinator{
		devices:  devices,
		states:   states,
		ledger:   led,
		queue:    queue,
		evidence: ev,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

/* --- registration --- */

type Registration struct {
	AccountID  string
	HardwareID string
	Info       identity.Info
	Conn       ledger.ConnectionInfo
}

type RegisterResult struct {
	Outcome Outcome
	Created bool
	Status  lifecycle.Status
}

// Register upserts the device under the claimed owner. A different stored
// owner never re-homes the device; if it is stolen, the sighting is logged
// to the ledger and the caller gets the recovery outcome.
func (c *Coordinator) Register(ctx context.Context, in Registration) (RegisterResult, error) {
	res, err := c.devices.Upsert(ctx, in.HardwareID, in.AccountID, in.Info)
	if err != nil {
		return RegisterResult{}, err
	}
	hw := res.Device.HardwareID

	if !res.OwnerMismatch {
		st, err := c.states.StatusOf(ctx, hw)
		if err != nil {
			return RegisterResult{}, err
		}
		return RegisterResult{Outcome: OutcomeRegistered, Created: res.Created, Status: st}, nil
	}

	stolen, err := c.states.IsStolen(ctx, hw)
	if err != nil {
		return RegisterResult{}, err
	}
	log := logs.Logger.WithFields(logrus.Fields{"hardware_id": hw, "prior_owner": res.PriorOwner})
	if !stolen {
		log.Info("registration by non-owner ignored")
		return RegisterResult{Outcome: OutcomeNotRegistered, Status: lifecycle.StatusRegistered}, nil
	}

	log.Warn("stolen device re-registered by another account")
	if lat, lon, ok := in.Info.Position(positionKey); ok {
		conn := in.Conn
		conn.Source = "register"
		if _, err := c.ledger.Append(ctx, hw, lat, lon, c.now(), conn); err != nil {
			// best effort: the sighting must not fail the registration
			log.WithError(err).Warn("recovery sighting not recorded")
		}
	}
	return RegisterResult{Outcome: OutcomeStolenRecover, Status: lifecycle.StatusStolen}, nil
}

func (c *Coordinator) StatusOf(ctx context.Context, hardwareID string) (lifecycle.Status, error) {
	return c.states.StatusOf(ctx, hardwareID)
}

/* --- theft report --- */

// ReportStolen flags an owned device stolen. Repeated reports succeed and
// keep the first record.
func (c *Coordinator) ReportStolen(ctx context.Context, accountID, hardwareID string, contact lifecycle.Contact) (lifecycle.Record, bool, error) {
	owner, err := c.devices.OwnerOf(ctx, hardwareID)
	if err != nil {
		return lifecycle.Record{}, false, err
	}
	if accountID == "" || owner != accountID {
		return lifecycle.Record{}, false, apperr.Forbidden("not authorized to report this device")
	}
	rec, created, err := c.states.ReportStolen(ctx, hardwareID, contact)
	if err != nil {
		return lifecycle.Record{}, false, err
	}
	if created {
		logs.Logger.WithField("hardware_id", rec.HardwareID).Info("device reported stolen")
	}
	return rec, created, nil
}

/* --- device side --- */

type CheckIn struct {
	HardwareID string
	Latitude   float64
	Longitude  float64
	Conn       ledger.ConnectionInfo
}

// CheckIn appends one ledger record when the reporting id (or the stolen
// unit it descends from after a reset) is stolen, and refreshes the stolen
// device's LastSeenAt. Anything else is a no-op.
func (c *Coordinator) CheckIn(ctx context.Context, in CheckIn) error {
	hw := strings.TrimSpace(in.HardwareID)
	if hw == "" || !ledger.ValidCoordinates(in.Latitude, in.Longitude) {
		return nil
	}
	subject, err := c.stolenSubject(ctx, hw)
	if err != nil || subject == "" {
		return err
	}
	conn := in.Conn
	conn.Source = "checkin"
	if subject != hw {
		conn.ReportedAs = hw
	}
	if _, err := c.ledger.Append(ctx, subject, in.Latitude, in.Longitude, c.now(), conn); err != nil {
		return err
	}
	// lastSeen на дашборде идёт от последней отметки украденного устройства
	if err := c.devices.Touch(ctx, subject); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return nil
}

type Position struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

type ResetAlert struct {
	OriginalID string
	NewID      string
	Position   *Position
	Info       identity.Info
	At         time.Time
	Conn       ledger.ConnectionInfo
}

// FactoryReset correlates a reset unit with its previous identity. Alerts
// about units that are not stolen are dropped.
func (c *Coordinator) FactoryReset(ctx context.Context, in ResetAlert) error {
	orig, next := strings.TrimSpace(in.OriginalID), strings.TrimSpace(in.NewID)
	if orig == "" || next == "" || orig == next {
		return apperr.Validation("original and new hardware id required and distinct")
	}
	subject, err := c.stolenSubject(ctx, orig)
	if err != nil || subject == "" {
		return err
	}
	at := in.At
	if at.IsZero() {
		at = c.now()
	}
	at = at.UTC()

	if err := c.devices.RecordReset(ctx, identity.ResetEvent{
		OriginalHardwareID: orig,
		NewHardwareID:      next,
		DetectedAt:         at,
		Info:               in.Info,
	}); err != nil {
		return err
	}

	if p := in.Position; p != nil && ledger.ValidCoordinates(p.Latitude, p.Longitude) {
		conn := in.Conn
		conn.Source = "reset"
		conn.ResetDetected = true
		conn.ReportedAs = next
		ts := p.At
		if ts.IsZero() {
			ts = at
		}
		if _, err := c.ledger.Append(ctx, subject, p.Latitude, p.Longitude, ts, conn); err != nil {
			return err
		}
	}

	if err := c.devices.Relink(ctx, orig, next, c.now().UTC()); err != nil {
		return err
	}
	logs.Logger.WithFields(logrus.Fields{"original": orig, "new": next, "tracked_as": subject}).
		Warn("factory reset of stolen device detected")
	return nil
}

// UploadPhoto keeps evidence for stolen units only.
func (c *Coordinator) UploadPhoto(ctx context.Context, hardwareID, data string) error {
	hw := strings.TrimSpace(hardwareID)
	if hw == "" {
		return nil
	}
	subject, err := c.stolenSubject(ctx, hw)
	if err != nil || subject == "" {
		return err
	}
	_, err = c.evidence.Add(ctx, subject, data, c.now())
	return err
}

// stolenSubject returns the stolen id that hardwareID reports for: itself, or
// the origin of its reset chain. "" means not stolen.
func (c *Coordinator) stolenSubject(ctx context.Context, hardwareID string) (string, error) {
	stolen, err := c.states.IsStolen(ctx, hardwareID)
	if err != nil {
		return "", err
	}
	if stolen {
		return hardwareID, nil
	}
	origin, err := c.devices.ResolveOrigin(ctx, hardwareID)
	if err != nil || origin == hardwareID {
		return "", err
	}
	stolen, err = c.states.IsStolen(ctx, origin)
	if err != nil || !stolen {
		return "", err
	}
	return origin, nil
}

/* --- owner views --- */

// Location is the owner-facing projection of a ledger record; it never
// carries the client IP.
type Location struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Timestamp     time.Time `json:"timestamp"`
	Accuracy      float64   `json:"accuracy"`
	Country       string    `json:"country,omitempty"`
	City          string    `json:"city,omitempty"`
	ResetDetected bool      `json:"resetDetected,omitempty"`
}

func toLocation(r ledger.Record) Location {
	acc := r.Connection.Accuracy
	if acc <= 0 {
		acc = ledger.DefaultAccuracy
	}
	return Location{
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		Timestamp:     r.RecordedAt,
		Accuracy:      acc,
		Country:       r.Connection.Country,
		City:          r.Connection.City,
		ResetDetected: r.Connection.ResetDetected,
	}
}

type DeviceInfo struct {
	HardwareID        string           `json:"hardwareId"`
	CurrentHardwareID string           `json:"currentHardwareId,omitempty"`
	AccountID         string           `json:"userId"`
	Model             string           `json:"model"`
	Status            lifecycle.Status `json:"status"`
	FirstSeen         time.Time        `json:"firstSeen"`
	LastSeen          time.Time        `json:"lastSeen"`
	ReportedAt        *time.Time       `json:"reportedAt"`
	RecoveryEmail     string           `json:"ownerEmail,omitempty"`
	Battery           any              `json:"battery,omitempty"`
	LastLocation      *Location        `json:"lastLocation"`
	LastPhoto         string           `json:"lastPhoto,omitempty"`
	LastPhotoTime     *time.Time       `json:"lastPhotoTime,omitempty"`
	Resets            int              `json:"factoryResets"`
}

// DeviceInfo is the dashboard view of one owned device. Devices of other
// accounts are reported as not found.
func (c *Coordinator) DeviceInfo(ctx context.Context, accountID, hardwareID string) (DeviceInfo, error) {
	dev, err := c.devices.Resolve(ctx, hardwareID)
	if err != nil {
		return DeviceInfo{}, err
	}
	if accountID == "" || dev.AccountID != accountID {
		return DeviceInfo{}, apperr.NotFound("device not found")
	}

	out := DeviceInfo{
		HardwareID: dev.HardwareID,
		AccountID:  dev.AccountID,
		Model:      dev.Info.String("model"),
		Status:     lifecycle.StatusRegistered,
		FirstSeen:  dev.FirstSeenAt,
		LastSeen:   dev.LastSeenAt,
		Battery:    dev.Info["battery"],
	}
	if out.Model == "" {
		out.Model = "Unknown Device"
	}

	rec, stolen, err := c.states.Record(ctx, dev.HardwareID)
	if err != nil {
		return DeviceInfo{}, err
	}
	if stolen {
		out.Status = lifecycle.StatusStolen
		reported := rec.ReportedAt
		out.ReportedAt = &reported
		out.RecoveryEmail = rec.RecoveryEmail
	}

	if canon, err := c.devices.ResolveCanonical(ctx, dev.HardwareID); err == nil && canon != dev.HardwareID {
		out.CurrentHardwareID = canon
	}
	if evs, err := c.devices.Resets(ctx, dev.HardwareID); err == nil {
		out.Resets = len(evs)
	}

	last, ok, err := c.ledger.Latest(ctx, dev.HardwareID)
	if err != nil {
		return DeviceInfo{}, err
	}
	if ok {
		loc := toLocation(last)
		out.LastLocation = &loc
	}

	photo, ok, err := c.evidence.Latest(ctx, dev.HardwareID)
	if err != nil {
		return DeviceInfo{}, err
	}
	if ok {
		out.LastPhoto = photo.Data
		taken := photo.TakenAt
		out.LastPhotoTime = &taken
	}
	return out, nil
}

// LocationHistory lists the newest locations of an owned device.
func (c *Coordinator) LocationHistory(ctx context.Context, accountID, hardwareID string, limit int) ([]Location, error) {
	owner, err := c.devices.OwnerOf(ctx, hardwareID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	if err != nil || accountID == "" || owner != accountID {
		return nil, apperr.Forbidden("not authorized to view this device")
	}
	recs, err := c.ledger.Recent(ctx, strings.TrimSpace(hardwareID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(recs))
	for _, r := range recs {
		out = append(out, toLocation(r))
	}
	return out, nil
}

/* --- commands --- */

func (c *Coordinator) EnqueueCommand(ctx context.Context, req commands.Request) (commands.Command, error) {
	cmd, err := c.queue.Enqueue(ctx, req)
	if err != nil {
		return commands.Command{}, err
	}
	logs.Logger.WithFields(logrus.Fields{"hardware_id": cmd.HardwareID, "command_id": cmd.ID, "kind": cmd.Kind}).
		Info("command queued")
	return cmd, nil
}

// PollCommands lists pending commands of hardwareID. A reset unit whose
// chain leads to a stolen device also receives the commands queued for that
// device, merged oldest first.
func (c *Coordinator) PollCommands(ctx context.Context, hardwareID string) ([]commands.Command, error) {
	hw := strings.TrimSpace(hardwareID)
	own, err := c.queue.PendingFor(ctx, hw)
	if err != nil {
		return nil, err
	}
	subject, err := c.stolenSubject(ctx, hw)
	if err != nil {
		return nil, err
	}
	if subject == "" || subject == hw {
		return own, nil
	}
	inherited, err := c.queue.PendingFor(ctx, subject)
	if err != nil {
		return nil, err
	}
	out := append(own, inherited...)
	slices.SortFunc(out, func(a, b commands.Command) int {
		if d := a.IssuedAt.Compare(b.IssuedAt); d != 0 {
			return d
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (c *Coordinator) AcknowledgeCommand(ctx context.Context, id uint64, result map[string]any) error {
	done, err := c.queue.Acknowledge(ctx, id, result)
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	log := logs.Logger.WithField("command_id", id)
	if cmd, err := c.queue.Get(ctx, id); err == nil {
		log = log.WithFields(logrus.Fields{"hardware_id": cmd.HardwareID, "kind": cmd.Kind})
	}
	log.Info("command executed")
	return nil
}
