// Package apexclock provides the platform's uniform timestamp type.
//
// A Time is an epoch pair (seconds, microseconds) so that live wall-clock
// time and virtual backtest time share one representation; every component
// that needs "now" asks a clock source rather than calling time.Now()
// directly (see Source below).
package apexclock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time is a point in time expressed as whole seconds since the Unix epoch
// plus a microsecond remainder. The zero value is Empty.
type Time struct {
	sec   int64
	micro int64
}

// Empty is the sentinel denoting "no time set".
var Empty = Time{}

// FromTime converts a time.Time into a Time, truncating to microsecond
// resolution.
func FromTime(t time.Time) Time {
	u := t.UnixMicro()
	return Time{sec: u / 1_000_000, micro: u % 1_000_000}
}

// Now returns the current wall-clock time. Only the live/paper clock Source
// (below) and tests may call this; all other code must go through a Source.
func Now() Time {
	return FromTime(time.Now())
}

// FromUnixMicro builds a Time from a microseconds-since-epoch integer, the
// unit used by tickbin capture_time fields and Tardis CSV timestamps.
func FromUnixMicro(us int64) Time {
	return Time{sec: us / 1_000_000, micro: us % 1_000_000}
}

// IsEmpty reports whether t is the empty sentinel.
func (t Time) IsEmpty() bool { return t == Empty }

// UnixMicro returns microseconds since the Unix epoch.
func (t Time) UnixMicro() int64 { return t.sec*1_000_000 + t.micro }

// AsTime converts back to a time.Time in UTC.
func (t Time) AsTime() time.Time { return time.UnixMicro(t.UnixMicro()).UTC() }

// Before reports whether t is strictly earlier than other. An empty time
// compares as "infinitely late" so it never sorts before a set time, which
// matches the event loop's "no next event" convention.
func (t Time) Before(other Time) bool {
	if t.IsEmpty() {
		return false
	}
	if other.IsEmpty() {
		return true
	}
	return t.UnixMicro() < other.UnixMicro()
}

// Sub returns the duration t - other.
func (t Time) Sub(other Time) time.Duration {
	return time.Duration(t.UnixMicro()-other.UnixMicro()) * time.Microsecond
}

// Add returns t advanced by d.
func (t Time) Add(d time.Duration) Time {
	return FromUnixMicro(t.UnixMicro() + d.Microseconds())
}

// AsISO8601 formats with millisecond resolution, e.g. "2024-01-02T03:04:05.678Z".
func (t Time) AsISO8601() string {
	if t.IsEmpty() {
		return ""
	}
	return t.AsTime().Format("2006-01-02T15:04:05.000Z")
}

// AsISO8601Micros formats with microsecond resolution.
func (t Time) AsISO8601Micros() string {
	if t.IsEmpty() {
		return ""
	}
	return t.AsTime().Format("2006-01-02T15:04:05.000000Z")
}

func (t Time) String() string {
	if t.IsEmpty() {
		return "<empty>"
	}
	return t.AsISO8601Micros()
}

// ParseISO8601 parses any of the layouts the platform accepts on input:
// millisecond, microsecond, or second resolution, all UTC ("Z" suffix).
func ParseISO8601(s string) (Time, error) {
	if s == "" {
		return Empty, nil
	}
	layouts := []string{
		"2006-01-02T15:04:05.000000Z",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), nil
		} else {
			lastErr = err
		}
	}
	return Empty, fmt.Errorf("apexclock: cannot parse %q: %w", s, lastErr)
}

// ParseDateBucket parses a "yyyy/mm/dd" tick-file directory bucket into a
// Time at midnight UTC of that day.
func ParseDateBucket(s string) (Time, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Empty, fmt.Errorf("apexclock: invalid date bucket %q", s)
	}
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return Empty, fmt.Errorf("apexclock: invalid year in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Empty, fmt.Errorf("apexclock: invalid month in %q: %w", s, err)
	}
	d, err := strconv.Atoi(parts[2])
	if err != nil {
		return Empty, fmt.Errorf("apexclock: invalid day in %q: %w", s, err)
	}
	return FromTime(time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)), nil
}

// DateBucket returns the "yyyy/mm/dd" directory bucket for t, the tick-data
// capture pipeline's file layout convention.
func (t Time) DateBucket() string {
	ut := t.AsTime()
	return fmt.Sprintf("%04d/%02d/%02d", ut.Year(), int(ut.Month()), ut.Day())
}

// Source yields "now" the way the rest of the platform must ask for it:
// wall-clock in live/paper, the event loop's virtual time in backtest. Every
// component depends on a Source, never on time.Now() directly.
type Source interface {
	Now() Time
}

// WallClock is the Source used in live and paper run modes.
type WallClock struct{}

// Now returns the real current time.
func (WallClock) Now() Time { return Now() }
