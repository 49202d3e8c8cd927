package filter

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"evcal/internal/i18n"
	"evcal/internal/model"
	"evcal/internal/zone"
)

// ParseOptions controls how request parameters are interpreted.
type ParseOptions struct {
	Profile Profile
	// Now anchors quick presets. Zero means time.Now().
	Now time.Time
	// ServerZone resolves presets when the request has no usable tz.
	// Nil means time.Local.
	ServerZone *time.Location
}

// Parse reads filter parameters from a query string:
//
//	q loc from to category organizer free online featured quick tz locale
//	status page pageSize deleted missing createdFrom createdTo
//
// Terms with unusable values are dropped and reported in the returned
// error (errors.Join of ErrInvalidFilterValue / zone.ErrInvalidTimeZone
// causes). The returned Spec is always usable, even when err is non-nil.
func Parse(values url.Values, opts ParseOptions) (Spec, error) {
	p := opts.Profile
	if p.MaxPageSize == 0 {
		p = ProfileAPI
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var errs []error
	invalid := func(key, val string, cause error) {
		if cause != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidFilterValue, key, val, cause))
			return
		}
		errs = append(errs, fmt.Errorf("%w: %s=%q", ErrInvalidFilterValue, key, val))
	}

	s := Spec{
		Keyword:      strings.TrimSpace(values.Get("q")),
		Location:     strings.TrimSpace(values.Get("loc")),
		Category:     strings.TrimSpace(values.Get("category")),
		Organizer:    strings.TrimSpace(values.Get("organizer")),
		FreeOnly:     flag(values, "free"),
		OnlineOnly:   flag(values, "online"),
		FeaturedOnly: flag(values, "featured"),
		Privileged:   p.Privileged,
		Order:        p.Order,
	}

	if tz := strings.TrimSpace(values.Get("tz")); tz != "" {
		loc, err := zone.Load(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("tz: %w", err))
		} else {
			s.Zone = loc
		}
	}

	if v := strings.TrimSpace(values.Get("from")); v != "" {
		if t, err := ParseDate(v, s.Zone); err != nil {
			invalid("from", v, err)
		} else {
			s.From = &t
		}
	}
	if v := strings.TrimSpace(values.Get("to")); v != "" {
		if t, err := ParseDate(v, s.Zone); err != nil {
			invalid("to", v, err)
		} else {
			s.To = &t
		}
	}

	if v := strings.TrimSpace(values.Get("quick")); v != "" {
		if preset, ok := zone.ParsePreset(v); !ok {
			invalid("quick", v, nil)
		} else {
			loc := s.Zone
			if loc == nil {
				loc = opts.ServerZone
			}
			w, err := zone.ResolvePreset(preset, now, loc)
			if err != nil {
				invalid("quick", v, err)
			} else {
				s.Quick = preset
				s.QuickWindow = &w
			}
		}
	}

	if v := strings.TrimSpace(values.Get("locale")); v != "" {
		if l := i18n.Normalize(v); l == "" {
			invalid("locale", v, nil)
		} else {
			s.Locale = l
		}
	}

	if v := strings.TrimSpace(values.Get("status")); v != "" {
		st, ok := model.ParseStatus(v)
		switch {
		case !ok:
			invalid("status", v, nil)
		case st == model.StatusDraft && !p.Privileged:
			invalid("status", v, errors.New("not visible in public views"))
		default:
			s.Status = st
		}
	}

	if p.Privileged {
		s.IncludeDeleted = flag(values, "deleted")

		if v := strings.TrimSpace(values.Get("missing")); v != "" {
			if l := i18n.Normalize(v); l == "" {
				invalid("missing", v, nil)
			} else {
				s.MissingLocale = l
			}
		}
		if v := strings.TrimSpace(values.Get("createdFrom")); v != "" {
			if t, err := ParseDate(v, s.Zone); err != nil {
				invalid("createdFrom", v, err)
			} else {
				s.CreatedFrom = &t
			}
		}
		if v := strings.TrimSpace(values.Get("createdTo")); v != "" {
			if t, err := ParseDate(v, s.Zone); err != nil {
				invalid("createdTo", v, err)
			} else {
				s.CreatedTo = &t
			}
		}
	}

	page := intParam(values, "page", 1)
	pageSize := intParam(values, "pageSize", p.DefaultPageSize)
	s.Page, s.PageSize = p.Clamp(page, pageSize)

	return s, errors.Join(errs...)
}

// flag reports whether key is present with any value other than "0" or
// "false".
func flag(values url.Values, key string) bool {
	if !values.Has(key) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(values.Get(key))) {
	case "0", "false":
		return false
	}
	return true
}

// intParam returns the integer value of key, or def when it is missing or
// not a number.
func intParam(values url.Values, key string, def int) int {
	v := strings.TrimSpace(values.Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParseDate accepts RFC3339 (with or without fractional seconds) and
// YYYY-MM-DD. A bare date is midnight in loc, or UTC when loc is nil.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or YYYY-MM-DD")
	}
	return t.UTC(), nil
}
