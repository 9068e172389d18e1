package commands

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindAlarm   Kind = "alarm"
	KindLock    Kind = "lock"
	KindWipe    Kind = "wipe"
)

// Payload is the kind-specific command data delivered to the device.
type Payload map[string]any

// KindDef describes one command kind. Normalize validates the payload and
// fills defaults; SecondFactor kinds need the issuer's password at enqueue.
type KindDef struct {
	Kind         Kind
	Normalize    func(Payload) (Payload, error)
	SecondFactor bool
}

const (
	DefaultMessage      = "Your device has been reported stolen"
	DefaultAlarmSeconds = 30
	maxMessageLen       = 500
	maxAlarmSeconds     = 600
)

/* --- normalizers --- */

func normMessage(p Payload) (Payload, error) {
	text, err := optString(p, "message", DefaultMessage)
	if err != nil {
		return nil, err
	}
	return Payload{"message": text}, nil
}

func normAlarm(p Payload) (Payload, error) {
	d := float64(DefaultAlarmSeconds)
	if v, ok := p["duration"]; ok && v != nil {
		n, isNum := v.(float64)
		if i, isInt := v.(int); isInt {
			n, isNum = float64(i), true
		}
		if !isNum || n != math.Trunc(n) {
			return nil, fmt.Errorf("duration must be whole seconds")
		}
		d = n
	}
	if d < 1 || d > maxAlarmSeconds {
		return nil, fmt.Errorf("duration out of range [1..%d]", maxAlarmSeconds)
	}
	return Payload{"duration": int(d)}, nil
}

func normLock(p Payload) (Payload, error) {
	text, err := optString(p, "message", "")
	if err != nil {
		return nil, err
	}
	if text == "" {
		return Payload{}, nil
	}
	return Payload{"message": text}, nil
}

func normWipe(Payload) (Payload, error) {
	return Payload{"confirmed": true}, nil
}

func optString(p Payload, key, def string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return "", fmt.Errorf("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if utf8.RuneCountInString(s) > maxMessageLen {
		return "", fmt.Errorf("%s longer than %d characters", key, maxMessageLen)
	}
	return s, nil
}

/* --- catalog --- */

var Catalog = []KindDef{
	{Kind: KindMessage, Normalize: normMessage},
	{Kind: KindAlarm, Normalize: normAlarm},
	{Kind: KindLock, Normalize: normLock},
	{Kind: KindWipe, Normalize: normWipe, SecondFactor: true},
}

var index = func() map[Kind]KindDef {
	m := make(map[Kind]KindDef, len(Catalog))
	for _, d := range Catalog {
		m[d.Kind] = d
	}
	return m
}()

// Lookup finds the definition of k.
func Lookup(k Kind) (KindDef, bool) {
	d, ok := index[Kind(strings.ToLower(strings.TrimSpace(string(k))))]
	return d, ok
}
