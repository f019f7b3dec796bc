package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// ParseTimeOfDay parses "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day: %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		vals[i] = v
	}
	tod := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if tod.Hour < 0 || tod.Hour > 23 || tod.Minute < 0 || tod.Minute > 59 || tod.Second < 0 || tod.Second > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day out of range: %q", s)
	}
	return tod, nil
}

// String formats the time the same way Home Assistant input_datetime does.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the time of day on the same date as ref.
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, t.Second, 0, ref.Location())
}

// Window is the daily time-of-day range a device is allowed to run in. Stop
// before Start means the window spans midnight.
type Window struct {
	Start TimeOfDay `json:"start"`
	Stop  TimeOfDay `json:"stop"`
}

// Span is a Window resolved to concrete times.
type Span struct {
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Normalize resolves the window relative to now. A window that has already
// ended today is rolled forward to tomorrow, and a window that straddles
// midnight has its start moved back a day. The result always satisfies
// Start <= Stop and Stop > now.
func (w Window) Normalize(now time.Time) Span {
	start := w.Start.On(now)
	stop := w.Stop.On(now)
	if !stop.After(now) {
		start = start.Add(day)
		stop = stop.Add(day)
	}
	if start.After(stop) {
		start = start.Add(-day)
	}
	return Span{Start: start, Stop: stop}
}

// Contains reports whether t is within [Start, Stop], both ends inclusive.
func (s Span) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.Stop)
}

// Covers reports whether the interval [start, end) lies entirely inside the span.
func (s Span) Covers(start, end time.Time) bool {
	return !s.Start.After(start) && !s.Stop.Before(end)
}
