// Package store is the event persistence contract used by the query engine
// together with an in-memory and a SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"evcal/internal/model"
	"evcal/internal/zone"
)

var (
	// ErrUnavailable wraps any failure to reach or read the store.
	ErrUnavailable = errors.New("event store unavailable")
	// ErrSchemaMismatch is returned when the translations relation cannot
	// be read, typically because its migration has not run yet.
	ErrSchemaMismatch = errors.New("event store schema mismatch")
)

// StatusRule selects how Query.Status is applied.
type StatusRule int

const (
	// StatusPublic excludes drafts.
	StatusPublic StatusRule = iota
	// StatusAny applies no status constraint.
	StatusAny
	// StatusExact matches Query.Status only.
	StatusExact
)

// DeletedRule selects how the soft-delete marker is applied.
type DeletedRule int

const (
	// DeletedExclude keeps rows whose deleted_at is null.
	DeletedExclude DeletedRule = iota
	// DeletedOnly keeps soft-deleted rows only.
	DeletedOnly
)

// Order is the sort order of Find.
type Order int

const (
	OrderStartAsc Order = iota
	OrderCreatedDesc
)

// Query is a compiled set of predicates. All terms are ANDed; zero values
// mean no constraint except for the status and deleted rules.
type Query struct {
	// Keyword matches title or description as a case-insensitive substring,
	// and slug too when KeywordInSlug is set.
	Keyword       string
	KeywordInSlug bool

	// Location matches venue name, city or country as a case-insensitive
	// substring.
	Location string

	// Windows must all overlap [StartAt, EndAt].
	Windows []zone.Window

	// Slug matches the event slug exactly.
	Slug string
	// OrganizerSlug matches the organizer's slug exactly.
	OrganizerSlug string

	Category     string
	FreeOnly     bool
	OnlineOnly   bool
	FeaturedOnly bool

	StatusRule StatusRule
	Status     model.Status

	Deleted DeletedRule

	// MissingLocale keeps events without a translation for that locale.
	MissingLocale string

	CreatedFrom *time.Time
	CreatedTo   *time.Time

	Order  Order
	Offset int
	// Limit of zero returns every matching row.
	Limit int

	// WithTranslations loads Event.Translations.
	WithTranslations bool
}

// Reader is what the query engine needs from storage.
type Reader interface {
	// Find returns the matching page ordered by q.Order.
	Find(ctx context.Context, q Query) ([]model.Event, error)
	// Count returns the number of matching rows, ignoring Offset/Limit.
	Count(ctx context.Context, q Query) (int, error)
}

// Writer stores events produced by importers.
type Writer interface {
	// UpsertEvents inserts or replaces events by ID, including their venue,
	// organizer, categories and translations.
	UpsertEvents(ctx context.Context, events []model.Event) error
}

// Store is a readable and writable event store.
type Store interface {
	Reader
	Writer
	Close() error
}
