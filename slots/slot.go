package slots

import (
	"fmt"
	"time"
)

// Length of a billing interval. Prices change on :00 and :30 past the hour (UTC).
const Length = 30 * time.Minute

const (
	isoLayout   = "2006-01-02T15:04:05Z"
	clockLayout = "15:04"
)

// Start returns the UTC start of the half hour interval containing t.
func Start(t time.Time) time.Time {
	t = t.UTC()
	minute := 0
	if t.Minute() >= 30 {
		minute = 30
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
}

// Next returns the start of the interval following the one containing t.
// The result is always strictly after t.
func Next(t time.Time) time.Time {
	return Start(t).Add(Length)
}

func FromNow() time.Time {
	return Start(time.Now())
}

func IsAligned(t time.Time) bool {
	return Start(t).Equal(t)
}

// ParseIso parses a UTC timestamp on the form 2006-01-02T15:04:05Z.
// Offsets, fractional seconds and any other layout are rejected.
func ParseIso(str string) (time.Time, error) {
	t, err := time.Parse(isoLayout, str)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid UTC timestamp %q: %w", str, err)
	}
	if t.Format(isoLayout) != str {
		return time.Time{}, fmt.Errorf("invalid UTC timestamp %q: unexpected format", str)
	}
	return t, nil
}

func IsoString(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// LocalClock renders t as HH:MM in the given location.
func LocalClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(clockLayout)
}

func LocalClockFromIso(str string, loc *time.Location) (string, error) {
	t, err := ParseIso(str)
	if err != nil {
		return "", err
	}
	return LocalClock(t, loc), nil
}

// LoadLocation is time.LoadLocation where an empty name means the local zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", name, err)
	}
	return loc, nil
}
