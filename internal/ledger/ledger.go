// Package ledger is the append-only log of device positions.
package ledger

import (
	"context"
	"math"
	"strings"
	"time"

	"ghosttrack/internal/apperr"
)

const (
	DefaultLimit    = 50
	DefaultMaxLimit = 500
	DefaultAccuracy = 100 // metres, when the device does not report one
)

// ConnectionInfo is the client metadata captured with a record. IP is kept
// for investigators and never copied into owner-facing views.
type ConnectionInfo struct {
	IP            string  `json:"ip,omitempty"`
	UserAgent     string  `json:"ua,omitempty"`
	Accuracy      float64 `json:"accuracy,omitempty"`
	Country       string  `json:"country,omitempty"`
	City          string  `json:"city,omitempty"`
	ResetDetected bool    `json:"resetDetected,omitempty"`
	ReportedAs    string  `json:"reportedAs,omitempty"` // hardware id the device used, when not the record's
	Source        string  `json:"source,omitempty"`     // checkin | register | reset
}

type Record struct {
	ID         uint64
	HardwareID string
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
	Connection ConnectionInfo
}

// Store is an ordered append-only log.
type Store interface {
	// Append assigns rec.ID, monotonically increasing across the store.
	Append(ctx context.Context, rec *Record) error
	// Recent returns up to limit records, RecordedAt desc then ID desc.
	Recent(ctx context.Context, hardwareID string, limit int) ([]Record, error)
}

type Ledger struct {
	store        Store
	defaultLimit int
	maxLimit     int
}

func New(store Store, defaultLimit, maxLimit int) *Ledger {
	if store == nil {
		store = NewMemStore()
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Ledger{store: store, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// ValidCoordinates reports whether lat/lon are finite and in range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ParseTime accepts RFC 3339 with fractional seconds, and the zone-less form
// JavaScript clients send (read as UTC). Anything else yields the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Append records one position. Unknown hardware ids are accepted so no
// forensic trail is lost.
func (l *Ledger) Append(ctx context.Context, hardwareID string, lat, lon float64, at time.Time, conn ConnectionInfo) (Record, error) {
	hardwareID = strings.TrimSpace(hardwareID)
	if hardwareID == "" {
		return Record{}, apperr.Validation("hardware id required")
	}
	if !ValidCoordinates(lat, lon) {
		return Record{}, apperr.Validation("coordinates out of range: lat=%v lon=%v", lat, lon)
	}
	if at.IsZero() {
		at = time.Now()
	}
	if conn.Accuracy <= 0 {
		conn.Accuracy = DefaultAccuracy
	}
	rec := Record{
		HardwareID: hardwareID,
		Latitude:   lat,
		Longitude:  lon,
		RecordedAt: at.UTC(),
		Connection: conn,
	}
	if err := l.store.Append(ctx, &rec); err != nil {
		return Record{}, apperr.Internal("append location", err)
	}
	return rec, nil
}

// Recent returns the newest records first. limit<=0 selects the default
// window; larger values are capped.
func (l *Ledger) Recent(ctx context.Context, hardwareID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	if limit > l.maxLimit {
		limit = l.maxLimit
	}
	recs, err := l.store.Recent(ctx, hardwareID, limit)
	if err != nil {
		return nil, apperr.Internal("read locations", err)
	}
	return recs, nil
}

// Latest returns the newest record, if any.
func (l *Ledger) Latest(ctx context.Context, hardwareID string) (Record, bool, error) {
	recs, err := l.Recent(ctx, hardwareID, 1)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}
