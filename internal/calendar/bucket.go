package calendar

import (
	"fmt"
	"strings"
	"time"

	"evcal/internal/model"
	"evcal/internal/zone"
)

// BucketMode selects which calendar date an event is filed under.
type BucketMode int

const (
	// BucketUTC files events by the UTC date of StartAt.
	BucketUTC BucketMode = iota
	// BucketEventZone files events by the date of StartAt in the event's
	// own Timezone, falling back to UTC when it cannot be loaded.
	BucketEventZone
)

func (m BucketMode) String() string {
	if m == BucketEventZone {
		return "event_zone"
	}
	return "utc"
}

// ParseBucketMode accepts "utc" (or "") and "event_zone".
func ParseBucketMode(s string) (BucketMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utc":
		return BucketUTC, nil
	case "event_zone", "event":
		return BucketEventZone, nil
	}
	return BucketUTC, fmt.Errorf("unknown bucket mode %q", s)
}

// maxZoneOffset bounds how far an event's own-zone date can sit from its
// UTC date.
const maxZoneOffset = 14 * time.Hour

type Bucketer struct {
	Mode BucketMode
}

// Key returns the bucket key of e.
func (b Bucketer) Key(e model.Event) string {
	return b.key(e, nil)
}

func (b Bucketer) key(e model.Event, zones map[string]*time.Location) string {
	if b.Mode != BucketEventZone || e.Timezone == "" {
		return DateKey(e.StartAt)
	}
	loc, ok := zones[e.Timezone]
	if !ok {
		var err error
		if loc, err = zone.Load(e.Timezone); err != nil {
			loc = time.UTC
		}
		if zones != nil {
			zones[e.Timezone] = loc
		}
	}
	return e.StartAt.In(loc).Format(time.DateOnly)
}

// BucketByDay files events under the keys of cells. Events whose key is not
// a cell are dropped. Input order is kept within a bucket.
func (b Bucketer) BucketByDay(events []model.LocalizedEvent, cells []DayCell) map[string][]model.LocalizedEvent {
	out := make(map[string][]model.LocalizedEvent, len(cells))
	for _, c := range cells {
		out[c.Key()] = nil
	}
	zones := map[string]*time.Location{}
	for _, e := range events {
		k := b.key(e.Event, zones)
		if _, ok := out[k]; ok {
			out[k] = append(out[k], e)
		}
	}
	for k, v := range out {
		if v == nil {
			delete(out, k)
		}
	}
	return out
}

// widen returns the fetch window for a view spanning w.
func (b Bucketer) widen(w zone.Window) zone.Window {
	if b.Mode != BucketEventZone {
		return w
	}
	return zone.Window{Start: w.Start.Add(-maxZoneOffset), End: w.End.Add(maxZoneOffset)}
}

// FilterDay keeps events overlapping w.
func FilterDay(events []model.LocalizedEvent, w zone.Window) []model.LocalizedEvent {
	out := make([]model.LocalizedEvent, 0, len(events))
	for _, e := range events {
		if w.Overlaps(e.StartAt, e.EndAt) {
			out = append(out, e)
		}
	}
	return out
}
