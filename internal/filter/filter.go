// Package filter turns request parameters or programmatic options into a
// typed event filter and compiles it into store predicates.
package filter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"evcal/internal/model"
	"evcal/internal/store"
	"evcal/internal/zone"
)

// ErrInvalidFilterValue marks a filter term whose value could not be used.
var ErrInvalidFilterValue = errors.New("invalid filter value")

// Profile carries the paging defaults and visibility of one view.
type Profile struct {
	Name            string
	DefaultPageSize int
	MinPageSize     int
	MaxPageSize     int
	Order           store.Order
	// Privileged profiles see drafts and may request deleted rows.
	Privileged bool
}

var (
	ProfileAPI      = Profile{Name: "api", DefaultPageSize: 20, MinPageSize: 1, MaxPageSize: 100}
	ProfileList     = Profile{Name: "list", DefaultPageSize: 12, MinPageSize: 1, MaxPageSize: 100}
	ProfileCalendar = Profile{Name: "calendar", DefaultPageSize: 100, MinPageSize: 1, MaxPageSize: 100}
	ProfileGroup    = Profile{Name: "group", DefaultPageSize: 8, MinPageSize: 1, MaxPageSize: 100}
	ProfileAdmin    = Profile{Name: "admin", DefaultPageSize: 50, MinPageSize: 10, MaxPageSize: 100,
		Order: store.OrderCreatedDesc, Privileged: true}
)

// MaxPage is the highest page number a filter will ask storage for.
const MaxPage = 1_000_000

// Clamp forces page into [1, MaxPage] and pageSize into the profile bounds.
// The resulting offset always fits in an int.
func (p Profile) Clamp(page, pageSize int) (int, int) {
	if pageSize < p.MinPageSize {
		pageSize = p.MinPageSize
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if p.MaxPageSize > 0 && pageSize > p.MaxPageSize {
		pageSize = p.MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	if limit := math.MaxInt/pageSize + 1; page > limit {
		page = limit
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page, pageSize
}

// Spec is a validated filter. Zero values mean "no constraint".
type Spec struct {
	Keyword  string
	Location string

	From *time.Time
	To   *time.Time

	Quick       zone.Preset
	QuickWindow *zone.Window

	// Zone is the requested display zone, nil when absent or invalid.
	Zone *time.Location

	// Slug selects a single event by its slug.
	Slug string
	// Organizer is an organizer slug.
	Organizer string

	Category     string
	FreeOnly     bool
	OnlineOnly   bool
	FeaturedOnly bool

	// Status is an exact status match; empty applies the profile default.
	Status         model.Status
	Privileged     bool
	IncludeDeleted bool

	MissingLocale string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time

	Page     int
	PageSize int
	Order    store.Order

	Locale string

	// Windows are extra overlap windows ANDed by view assemblers.
	Windows []zone.Window
}

// WithWindow returns a copy of s with w ANDed into its windows.
func (s Spec) WithWindow(w zone.Window) Spec {
	s.Windows = append(append([]zone.Window(nil), s.Windows...), w)
	return s
}

// Offset is the number of rows skipped before the current page. It never
// goes negative, even for a Spec that bypassed Clamp.
func (s Spec) Offset() int {
	if s.Page < 1 || s.PageSize < 1 {
		return 0
	}
	if s.Page-1 > math.MaxInt/s.PageSize {
		return math.MaxInt / s.PageSize * s.PageSize
	}
	return (s.Page - 1) * s.PageSize
}

// Query compiles s into store predicates.
func (s Spec) Query() store.Query {
	q := store.Query{
		Keyword:       s.Keyword,
		KeywordInSlug: s.Privileged,
		Location:      s.Location,
		Slug:          s.Slug,
		OrganizerSlug: s.Organizer,
		Category:      s.Category,
		FreeOnly:      s.FreeOnly,
		OnlineOnly:    s.OnlineOnly,
		FeaturedOnly:  s.FeaturedOnly,
		MissingLocale: s.MissingLocale,
		CreatedFrom:   s.CreatedFrom,
		CreatedTo:     s.CreatedTo,
		Order:         s.Order,
	}

	if s.From != nil || s.To != nil {
		w := zone.Window{Start: farPast, End: farFuture}
		if s.From != nil {
			w.Start = *s.From
		}
		if s.To != nil {
			w.End = *s.To
		}
		q.Windows = append(q.Windows, w)
	}
	if s.QuickWindow != nil {
		q.Windows = append(q.Windows, *s.QuickWindow)
	}
	q.Windows = append(q.Windows, s.Windows...)

	switch {
	case s.Status != "":
		q.StatusRule = store.StatusExact
		q.Status = s.Status
	case s.Privileged:
		q.StatusRule = store.StatusAny
	default:
		q.StatusRule = store.StatusPublic
	}

	if s.IncludeDeleted {
		q.Deleted = store.DeletedOnly
	}

	q.Offset = s.Offset()
	q.Limit = s.PageSize
	return q
}

// Open range ends. Both fit in int64 unix milliseconds.
var (
	farPast   = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	farFuture = time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC)
)

// Upcoming is the window of events that have not ended by now.
func Upcoming(now time.Time) zone.Window {
	return zone.Window{Start: now.UTC(), End: farFuture}
}

// Option configures a Spec built with New.
type Option func(*builder) error

type builder struct {
	spec    Spec
	profile Profile
	now     time.Time
	server  *time.Location
	from    string
	to      string
}

// New builds a spec programmatically. It fails with ErrInvalidFilterValue
// for malformed explicit dates or a from after to.
func New(opts ...Option) (Spec, error) {
	b := &builder{profile: ProfileAPI, now: time.Now()}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return Spec{}, err
		}
	}

	s := b.spec
	s.Privileged = b.profile.Privileged
	s.Order = b.profile.Order
	if s.PageSize == 0 {
		s.PageSize = b.profile.DefaultPageSize
	}
	s.Page, s.PageSize = b.profile.Clamp(s.Page, s.PageSize)
	if !s.Privileged {
		if s.Status == model.StatusDraft {
			s.Status = ""
		}
		s.IncludeDeleted = false
	}

	if b.from != "" {
		t, err := ParseDate(b.from, s.Zone)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: from: %v", ErrInvalidFilterValue, err)
		}
		s.From = &t
	}
	if b.to != "" {
		t, err := ParseDate(b.to, s.Zone)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: to: %v", ErrInvalidFilterValue, err)
		}
		s.To = &t
	}
	if s.From != nil && s.To != nil && s.From.After(*s.To) {
		return Spec{}, fmt.Errorf("%w: from %s is after to %s", ErrInvalidFilterValue,
			s.From.Format(time.RFC3339), s.To.Format(time.RFC3339))
	}

	if s.Quick != zone.PresetNone {
		loc := s.Zone
		if loc == nil {
			loc = b.server
		}
		w, err := zone.ResolvePreset(s.Quick, b.now, loc)
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidFilterValue, err)
		}
		s.QuickWindow = &w
	}
	return s, nil
}

func WithProfile(p Profile) Option {
	return func(b *builder) error { b.profile = p; return nil }
}

// WithClock fixes the instant presets are resolved against.
func WithClock(now time.Time) Option {
	return func(b *builder) error { b.now = now; return nil }
}

// WithServerZone sets the zone presets use when no display zone is set.
func WithServerZone(loc *time.Location) Option {
	return func(b *builder) error { b.server = loc; return nil }
}

func WithKeyword(s string) Option {
	return func(b *builder) error { b.spec.Keyword = s; return nil }
}

func WithLocation(s string) Option {
	return func(b *builder) error { b.spec.Location = s; return nil }
}

// WithRange sets an explicit overlap range. Either end may be nil.
func WithRange(from, to *time.Time) Option {
	return func(b *builder) error {
		b.spec.From, b.spec.To = from, to
		return nil
	}
}

// WithDateStrings sets the range from RFC3339 or YYYY-MM-DD strings, parsed
// in the spec zone. Empty strings leave that end open.
func WithDateStrings(from, to string) Option {
	return func(b *builder) error {
		b.from, b.to = from, to
		return nil
	}
}

func WithQuick(p zone.Preset) Option {
	return func(b *builder) error { b.spec.Quick = p; return nil }
}

// WithZone sets the display zone by IANA name.
func WithZone(name string) Option {
	return func(b *builder) error {
		loc, err := zone.Load(name)
		if err != nil {
			return err
		}
		b.spec.Zone = loc
		return nil
	}
}

// WithSlug selects the event with that slug.
func WithSlug(slug string) Option {
	return func(b *builder) error { b.spec.Slug = slug; return nil }
}

// WithOrganizer keeps events run by the organizer with that slug.
func WithOrganizer(slug string) Option {
	return func(b *builder) error { b.spec.Organizer = slug; return nil }
}

func WithCategory(slug string) Option {
	return func(b *builder) error { b.spec.Category = slug; return nil }
}

func WithFreeOnly() Option {
	return func(b *builder) error { b.spec.FreeOnly = true; return nil }
}

func WithOnlineOnly() Option {
	return func(b *builder) error { b.spec.OnlineOnly = true; return nil }
}

func WithFeaturedOnly() Option {
	return func(b *builder) error { b.spec.FeaturedOnly = true; return nil }
}

// WithStatus sets an exact status match. Public profiles ignore DRAFT.
func WithStatus(st model.Status) Option {
	return func(b *builder) error { b.spec.Status = st; return nil }
}

// WithDeleted selects soft-deleted rows only. It is ignored for public
// profiles.
func WithDeleted() Option {
	return func(b *builder) error { b.spec.IncludeDeleted = true; return nil }
}

func WithPage(page, pageSize int) Option {
	return func(b *builder) error {
		b.spec.Page, b.spec.PageSize = page, pageSize
		return nil
	}
}

func WithLocale(l string) Option {
	return func(b *builder) error { b.spec.Locale = l; return nil }
}
