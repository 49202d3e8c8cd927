package model

import (
	"strings"
	"time"
)

// Status is the publication state of an event.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusSoldOut   Status = "SOLD_OUT"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every known status in display order.
var Statuses = []Status{StatusDraft, StatusScheduled, StatusLive, StatusSoldOut, StatusCancelled}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Category is a filter key and display tag.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color,omitempty"`
}

// Venue is where an offline event takes place.
type Venue struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Organizer is the group that runs an event.
type Organizer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Translation holds per-locale text for an event. (EventID, Locale) is unique.
type Translation struct {
	EventID     string `json:"event_id"`
	Locale      string `json:"locale"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Event is a single calendar entry as stored. StartAt/EndAt are absolute
// instants; EndAt >= StartAt is validated by whoever writes the event.
type Event struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`

	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	// Timezone is the IANA zone used for default display.
	Timezone string `json:"timezone"`

	Status     Status `json:"status"`
	IsOnline   bool   `json:"is_online"`
	PriceCents *int64 `json:"price_cents,omitempty"`
	IsFeatured bool   `json:"is_featured"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Venue        *Venue        `json:"venue"`
	Organizer    *Organizer    `json:"organizer,omitempty"`
	Categories   []Category    `json:"categories"`
	Translations []Translation `json:"-"`
}

// IsFree reports whether the event counts as free for filtering: a missing
// price and a zero price both do.
func (e Event) IsFree() bool {
	return e.PriceCents == nil || *e.PriceCents == 0
}

// IsDeleted reports whether the event carries a soft-delete marker.
func (e Event) IsDeleted() bool {
	return e.DeletedAt != nil
}

// HasCategory reports whether one of the event's categories has slug.
func (e Event) HasCategory(slug string) bool {
	for _, c := range e.Categories {
		if c.Slug == slug {
			return true
		}
	}
	return false
}

// LocalizedEvent is an event whose Title/Description have been resolved for
// a requested locale. Locale is the translation that won, empty when the
// event's own text was used.
type LocalizedEvent struct {
	Event
	Locale string `json:"locale,omitempty"`
}
