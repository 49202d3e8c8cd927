package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"evcal/internal/i18n"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/zone"
)

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propDuration     = ical.ComponentProperty("DURATION")
	propCategories   = ical.ComponentProperty("CATEGORIES")
)

// ParsedEvent is one VEVENT with its times resolved to absolute instants.
// Recurrence is recorded, not expanded; see ExpandOccurrences.
type ParsedEvent struct {
	Feed Feed

	UID      string
	Sequence int

	Summary     string
	Description string
	Location    string
	URL         string
	// Status is the upper-cased ICS STATUS, empty when absent.
	Status     string
	Categories []string
	// Translations come from SUMMARY/DESCRIPTION carrying a LANGUAGE
	// parameter for a supported locale.
	Translations []model.Translation

	Start  time.Time
	End    time.Time
	AllDay bool
	// TZID of DTSTART, empty for UTC and floating times.
	TZID string

	RRule   string
	ExDates []time.Time
	// RecurrenceID is set on overrides of a recurring instance.
	RecurrenceID *time.Time
}

// IsOverride reports whether the VEVENT replaces one instance of a series.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// ParseICS parses one feed body. A VEVENT that cannot be read is logged and
// skipped; only an unreadable calendar fails.
func ParseICS(feed Feed, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	floating := time.UTC
	if feed.Timezone != "" {
		if loc, err := zone.Load(feed.Timezone); err == nil {
			floating = loc
		}
	}

	events := make([]ParsedEvent, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(feed, ve, floating)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feed.ID, "error", err.Error())
			continue
		}
		events = append(events, ev)
	}
	appLog.Debug("ics parsed", "feed", feed.ID, "events", len(events))
	return events, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent, floating *time.Location) (ParsedEvent, error) {
	out := ParsedEvent{Feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = n
		}
	}

	out.Summary, out.Translations = localizedText(out.Translations, ve.GetProperties(ical.ComponentPropertySummary), true)
	out.Description, out.Translations = localizedText(out.Translations, ve.GetProperties(ical.ComponentPropertyDescription), false)
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		out.URL = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}
	for _, p := range ve.GetProperties(propCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtstart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtstart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseICSTime(dtstart.Value, dtstart.ICalParameters, floating)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay
	out.TZID = param(dtstart.ICalParameters, "TZID")

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, err := parseICSTime(p.Value, p.ICalParameters, floating)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	case ve.GetProperty(propDuration) != nil:
		d, err := parseDuration(ve.GetProperty(propDuration).Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.End = start.Add(d)
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}
	if out.End.Before(out.Start) {
		return out, errors.New("DTEND before DTSTART")
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = strings.TrimSpace(p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, _, err := parseICSTime(part, p.ICalParameters, floating); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if t, _, err := parseICSTime(p.Value, p.ICalParameters, floating); err == nil {
			out.RecurrenceID = &t
		}
	}
	return out, nil
}

// localizedText returns the untagged (or first) value of props and appends
// a translation for every LANGUAGE-tagged value in a supported locale.
func localizedText(tr []model.Translation, props []*ical.IANAProperty, title bool) (string, []model.Translation) {
	var untagged, first string
	hasUntagged := false
	for i, p := range props {
		v := strings.TrimSpace(p.Value)
		if i == 0 {
			first = v
		}
		lang := param(p.ICalParameters, "LANGUAGE")
		if loc := i18n.Normalize(lang); loc != "" {
			tr = mergeTranslation(tr, loc, v, title)
			continue
		}
		if !hasUntagged {
			untagged, hasUntagged = v, true
		}
	}
	if hasUntagged {
		return untagged, tr
	}
	return first, tr
}

func mergeTranslation(tr []model.Translation, locale, v string, title bool) []model.Translation {
	for i := range tr {
		if tr[i].Locale == locale {
			if title {
				tr[i].Title = v
			} else {
				tr[i].Description = v
			}
			return tr
		}
	}
	t := model.Translation{Locale: locale}
	if title {
		t.Title = v
	} else {
		t.Description = v
	}
	return append(tr, t)
}

func param(params map[string][]string, key string) string {
	if vs := params[key]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}

// parseICSTime reads a DATE or DATE-TIME value. UTC ("Z") values are
// absolute, TZID values use that zone, anything else is floating and uses
// the feed zone. DATE values are midnight in the same zone.
func parseICSTime(v string, params map[string][]string, floating *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}
	loc := floating
	if tzid := param(params, "TZID"); tzid != "" {
		l, err := zone.Load(tzid)
		if err != nil {
			return time.Time{}, false, err
		}
		loc = l
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}

// parseDuration reads an RFC 5545 duration such as "PT1H30M", "P1D" or
// "P2W". Negative durations are rejected.
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	s = strings.TrimPrefix(s, "+")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]
	var (
		total  time.Duration
		inTime bool
		num    string
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num = ""
		unit := map[rune]time.Duration{'W': 7 * 24 * time.Hour, 'D': 24 * time.Hour}
		if inTime {
			unit = map[rune]time.Duration{'H': time.Hour, 'M': time.Minute, 'S': time.Second}
		}
		d, ok := unit[r]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * d
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return total, nil
}
