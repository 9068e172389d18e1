package identity

import "time"

// Info is the opaque attribute bag a device reports about itself
// (model, battery, lastKnownPosition, ...).
type Info map[string]any

// Device is a physical unit known under one hardware identifier. Its
// lifecycle status lives in package lifecycle.
type Device struct {
	HardwareID  string
	AccountID   string
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Info        Info
}

// Link maps a previous hardware identifier to its successor. One row per
// OriginalID; the most recent UpdatedAt wins.
type Link struct {
	OriginalID string
	CurrentID  string
	UpdatedAt  time.Time
}

// ResetEvent is the immutable audit record of a detected factory reset.
type ResetEvent struct {
	ID                 uint64
	OriginalHardwareID string
	NewHardwareID      string
	DetectedAt         time.Time
	Info               Info
}

// UpsertResult reports what Upsert did. OwnerMismatch means the stored owner
// differs from the claimed one; in that case only LastSeenAt was refreshed.
type UpsertResult struct {
	Device        Device
	Created       bool
	OwnerMismatch bool
	PriorOwner    string
}

func (i Info) String(key string) string {
	if i == nil {
		return ""
	}
	s, _ := i[key].(string)
	return s
}

// Position extracts a {latitude, longitude} object stored under key.
// ok is false when the object or either coordinate is missing or not numeric.
func (i Info) Position(key string) (lat, lon float64, ok bool) {
	if i == nil {
		return 0, 0, false
	}
	m, isMap := i[key].(map[string]any)
	if !isMap {
		return 0, 0, false
	}
	lat, okLat := number(m["latitude"])
	lon, okLon := number(m["longitude"])
	return lat, lon, okLat && okLon
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
