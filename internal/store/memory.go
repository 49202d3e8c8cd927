package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"evcal/internal/model"
)

// Memory is a mutex-guarded in-process store. It evaluates Query with Match
// and is used by tests and as the "placeholder" filter.
type Memory struct {
	mu     sync.RWMutex
	events []model.Event
}

// NewMemory returns a store preloaded with events.
func NewMemory(events ...model.Event) *Memory {
	m := &Memory{}
	m.events = append(m.events, events...)
	return m
}

// Find implements Reader.
func (m *Memory) Find(ctx context.Context, q Query) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := make([]model.Event, 0, len(m.events))
	for _, e := range m.events {
		if Match(q, e) {
			matched = append(matched, e)
		}
	}
	m.mu.RUnlock()

	Sort(matched, q.Order)

	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page := matched[start:end]

	out := make([]model.Event, len(page))
	for i, e := range page {
		if !q.WithTranslations {
			e.Translations = nil
		}
		out[i] = e
	}
	return out, nil
}

// Count implements Reader.
func (m *Memory) Count(ctx context.Context, q Query) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.events {
		if Match(q, e) {
			n++
		}
	}
	return n, nil
}

// UpsertEvents implements Writer.
func (m *Memory) UpsertEvents(ctx context.Context, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		replaced := false
		for i := range m.events {
			if m.events[i].ID == e.ID {
				m.events[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			m.events = append(m.events, e)
		}
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

// Match evaluates q's predicates against e. Offset, Limit and Order are
// ignored.
func Match(q Query, e model.Event) bool {
	if q.Keyword != "" {
		kw := strings.ToLower(q.Keyword)
		hit := containsFold(e.Title, kw) || containsFold(e.Description, kw)
		if !hit && q.KeywordInSlug {
			hit = containsFold(e.Slug, kw)
		}
		if !hit {
			return false
		}
	}
	if q.Location != "" {
		if e.Venue == nil {
			return false
		}
		loc := strings.ToLower(q.Location)
		if !containsFold(e.Venue.Name, loc) && !containsFold(e.Venue.City, loc) && !containsFold(e.Venue.Country, loc) {
			return false
		}
	}
	for _, w := range q.Windows {
		if !w.Overlaps(e.StartAt, e.EndAt) {
			return false
		}
	}
	if q.Slug != "" && e.Slug != q.Slug {
		return false
	}
	if q.OrganizerSlug != "" && (e.Organizer == nil || e.Organizer.Slug != q.OrganizerSlug) {
		return false
	}
	if q.Category != "" && !e.HasCategory(q.Category) {
		return false
	}
	if q.FreeOnly && !e.IsFree() {
		return false
	}
	if q.OnlineOnly && !e.IsOnline {
		return false
	}
	if q.FeaturedOnly && !e.IsFeatured {
		return false
	}
	switch q.StatusRule {
	case StatusPublic:
		if e.Status == model.StatusDraft {
			return false
		}
	case StatusExact:
		if e.Status != q.Status {
			return false
		}
	}
	switch q.Deleted {
	case DeletedExclude:
		if e.IsDeleted() {
			return false
		}
	case DeletedOnly:
		if !e.IsDeleted() {
			return false
		}
	}
	if q.MissingLocale != "" {
		for _, t := range e.Translations {
			if t.Locale == q.MissingLocale {
				return false
			}
		}
	}
	if q.CreatedFrom != nil && e.CreatedAt.Before(*q.CreatedFrom) {
		return false
	}
	if q.CreatedTo != nil && e.CreatedAt.After(*q.CreatedTo) {
		return false
	}
	return true
}

// Sort orders events the way Find does. Ties break on ID so results are
// stable across calls.
func Sort(events []model.Event, o Order) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		switch o {
		case OrderCreatedDesc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		default:
			if !a.StartAt.Equal(b.StartAt) {
				return a.StartAt.Before(b.StartAt)
			}
		}
		return a.ID < b.ID
	})
}

// containsFold reports whether lowered needle occurs in s, ignoring case.
func containsFold(s, needle string) bool {
	return strings.Contains(strings.ToLower(s), needle)
}
