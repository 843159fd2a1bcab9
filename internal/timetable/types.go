package timetable

import (
	"fmt"
	"strings"
	"time"
)

// Direction is one of the two travel directions on the line.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Directions lists both directions in catalog order.
var Directions = []Direction{Outbound, Inbound}

// ParseDirection accepts the canonical names plus the "go"/"return" aliases
// used by the chat front-end.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outbound", "go":
		return Outbound, nil
	case "inbound", "return":
		return Inbound, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Valid() bool { return d == Outbound || d == Inbound }

// TimeOfDay is a wall-clock minute, stored as minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses HH:MM. Seconds are not accepted; timetables are
// minute-granular.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, ok := twoDigits(parts[0])
	if !ok || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, ok := twoDigits(parts[1])
	if !ok || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// Of projects t onto its hour:minute, dropping seconds. t must already be in
// the line's timezone.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// StationTimes is one station's ordered departures in a single direction.
type StationTimes struct {
	Station    string
	Departures []TimeOfDay
}
