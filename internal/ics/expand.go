package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "evcal/internal/log"
	"evcal/internal/zone"
)

const defaultMaxOccurrences = 500

type ExpandConfig struct {
	// Window bounds the occurrences kept; touching counts as overlap.
	Window zone.Window
	// MaxOccurrences caps one series. Zero means defaultMaxOccurrences.
	MaxOccurrences int
}

// Occurrence is one concrete instance of a VEVENT.
type Occurrence struct {
	// Event carries the text of the instance, taken from an override when
	// one replaced it.
	Event ParsedEvent
	Start time.Time
	End   time.Time
	// InstanceKey identifies the instance within its series: the original
	// start in UTC, stable across overrides that move it.
	InstanceKey string
}

type ExpandResult struct {
	Occurrences []Occurrence
	// Truncated lists the UIDs whose series hit MaxOccurrences.
	Truncated []string
}

// ExpandOccurrences turns parsed events into the instances overlapping
// cfg.Window, applying RRULE, EXDATE and RECURRENCE-ID overrides. The result
// is ordered by start, then UID.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var res ExpandResult
	if cfg.Window.End.Before(cfg.Window.Start) {
		return res, errors.New("expand: window end before start")
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxOccurrences
	}

	type series struct {
		base      []ParsedEvent
		overrides []ParsedEvent
	}
	byUID := map[string]*series{}
	var uids []string
	for _, ev := range events {
		key := ev.Feed.ID + "\x00" + ev.UID
		s, ok := byUID[key]
		if !ok {
			s = &series{}
			byUID[key] = s
			uids = append(uids, key)
		}
		if ev.IsOverride() {
			s.overrides = append(s.overrides, ev)
		} else {
			s.base = append(s.base, ev)
		}
	}

	for _, key := range uids {
		s := byUID[key]
		used := map[int]bool{}
		for _, ev := range s.base {
			occ, capped := expandSeries(ev, s.overrides, used, cfg)
			res.Occurrences = append(res.Occurrences, occ...)
			if capped {
				res.Truncated = append(res.Truncated, ev.UID)
				appLog.Warn("ics series truncated", "feed", ev.Feed.ID, "uid", ev.UID, "cap", cfg.MaxOccurrences)
			}
		}
		// Overrides whose series is missing or whose original instance lies
		// outside the window stand alone.
		for i, ov := range s.overrides {
			if used[i] {
				continue
			}
			if cfg.Window.Overlaps(ov.Start, ov.End) {
				res.Occurrences = append(res.Occurrences, Occurrence{
					Event: ov, Start: ov.Start, End: ov.End,
					InstanceKey: instanceKey(*ov.RecurrenceID),
				})
			}
		}
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		a, b := res.Occurrences[i], res.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Event.UID < b.Event.UID
	})
	return res, nil
}

func expandSeries(ev ParsedEvent, overrides []ParsedEvent, used map[int]bool, cfg ExpandConfig) ([]Occurrence, bool) {
	if ev.RRule == "" {
		if !cfg.Window.Overlaps(ev.Start, ev.End) {
			return nil, false
		}
		return []Occurrence{{Event: ev, Start: ev.Start, End: ev.End, InstanceKey: ""}}, false
	}

	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		appLog.Warn("ics rrule invalid", "feed", ev.Feed.ID, "uid", ev.UID, "rrule", ev.RRule, "error", err.Error())
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	loc := ev.Start.Location()
	// Pull the lower bound back by the duration so instances that started
	// before the window but are still running are kept.
	starts := set.Between(cfg.Window.Start.Add(-dur).In(loc), cfg.Window.End.In(loc), true)

	capped := false
	if len(starts) > cfg.MaxOccurrences {
		starts, capped = starts[:cfg.MaxOccurrences], true
	}

	out := make([]Occurrence, 0, len(starts))
	for _, st := range starts {
		end := st.Add(dur)
		if ev.AllDay {
			end = st.AddDate(0, 0, int(dur/(24*time.Hour)))
		}
		occ := Occurrence{Event: ev, Start: st, End: end, InstanceKey: instanceKey(st)}
		if i, ok := findOverride(overrides, st); ok {
			used[i] = true
			ov := overrides[i]
			occ.Event, occ.Start, occ.End = ov, ov.Start, ov.End
			if !cfg.Window.Overlaps(occ.Start, occ.End) {
				continue
			}
		}
		out = append(out, occ)
	}
	return out, capped
}

func findOverride(overrides []ParsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func instanceKey(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
