// Package zone converts local calendar days in IANA time zones into absolute
// UTC windows and resolves the named quick date presets.
//
// Everything here is a pure function of its inputs and safe for concurrent use.
package zone

import (
	"errors"
	"fmt"
	"strings"
	"time"

	// Embedded IANA database so zone names resolve on hosts without
	// /usr/share/zoneinfo.
	_ "time/tzdata"
)

// ErrInvalidTimeZone is returned when a zone name is not a recognized IANA
// identifier.
var ErrInvalidTimeZone = errors.New("invalid time zone")

// ErrUnknownPreset is returned for preset names other than today/weekend.
var ErrUnknownPreset = errors.New("unknown quick preset")

// lastMilli is the offset from local midnight to 23:59:59.999.
const lastMilli = time.Millisecond

// Load resolves an IANA zone name.
func Load(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidTimeZone)
	}
	// time.LoadLocation treats "Local" specially; a request parameter
	// should never select the server's zone by name.
	if name == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimeZone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTimeZone, name, err)
	}
	return loc, nil
}

// Window is an inclusive [Start, End] span of absolute instants.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether [start, end] intersects the window. Touching
// boundaries count as overlap.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(w.Start) {
		return false
	}
	if w.End.Before(start) {
		return false
	}
	return true
}

// Intersect returns the common part of both windows. The result may be
// empty (End before Start); callers that compose windows as AND filters do
// not need to special-case that.
func (w Window) Intersect(o Window) Window {
	out := w
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out
}

// Empty reports whether the window contains no instant.
func (w Window) Empty() bool {
	return w.End.Before(w.Start)
}

// DayBounds returns local 00:00:00.000 and 23:59:59.999 of the given
// calendar date in loc, as absolute instants. The bounds follow wall-clock
// midnights, so a DST day spans 23 or 25 real hours. Out-of-range month or
// day values are normalized the way time.Date does. A nil loc means UTC.
func DayBounds(year int, month time.Month, day int, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	next := time.Date(year, month, day+1, 0, 0, 0, 0, loc)
	return Window{Start: start.UTC(), End: next.Add(-lastMilli).UTC()}
}

// DayBoundsOf returns the bounds of t's calendar date in loc.
func DayBoundsOf(t time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return DayBounds(y, m, d, loc)
}

// Preset is a named shorthand date range.
type Preset string

const (
	PresetNone    Preset = ""
	PresetToday   Preset = "today"
	PresetWeekend Preset = "weekend"
)

// ParsePreset accepts "today" or "weekend" case-insensitively.
func ParsePreset(s string) (Preset, bool) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetToday:
		return PresetToday, true
	case PresetWeekend:
		return PresetWeekend, true
	default:
		return PresetNone, false
	}
}

// ResolvePreset computes the window of a preset relative to now.
//
//   - today:   the calendar date of now in loc.
//   - weekend: the next Friday (now's date when it already is Friday, so a
//     Saturday or Sunday resolves to the following weekend) 00:00:00.000
//     through the Sunday after it at 23:59:59.999.
//
// A nil loc uses server local time.
func ResolvePreset(p Preset, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch p {
	case PresetToday:
		return DayBounds(y, m, d, loc), nil
	case PresetWeekend:
		untilFri := (int(time.Friday) - int(local.Weekday()) + 7) % 7
		fri := DayBounds(y, m, d+untilFri, loc)
		sun := DayBounds(y, m, d+untilFri+2, loc)
		return Window{Start: fri.Start, End: sun.End}, nil
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPreset, string(p))
	}
}
