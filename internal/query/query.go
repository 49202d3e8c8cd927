// Package query runs event filters against the store and localizes the
// page it gets back.
package query

import (
	"context"
	"errors"
	"time"

	"evcal/internal/filter"
	"evcal/internal/i18n"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/store"
)

// Outcome tells how a result was produced.
type Outcome int

const (
	// OutcomeOK: the store answered with translations.
	OutcomeOK Outcome = iota
	// OutcomeNoTranslations: the first fetch failed and the retry without
	// translations succeeded. Items carry their default text.
	OutcomeNoTranslations
	// OutcomeDegraded: the store could not be read; Items is the
	// placeholder set, or empty when the caller's context ended.
	OutcomeDegraded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoTranslations:
		return "no_translations"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Result is one localized page.
type Result struct {
	Items    []model.LocalizedEvent `json:"items"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
	Total    int                    `json:"total"`

	Outcome Outcome `json:"-"`
	// Err is the store failure behind a non-OK outcome.
	Err error `json:"-"`
}

// Placeholder event identity and shape.
const (
	PlaceholderID    = "placeholder"
	PlaceholderTitle = "Sample Event"
	placeholderSpan  = 2 * time.Hour
)

// Engine is safe for concurrent use; it holds no per-query state.
type Engine struct {
	store    store.Reader
	resolver *i18n.Resolver
	now      func() time.Time
}

type Option func(*Engine)

// WithClock replaces time.Now, which anchors the placeholder event.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(r store.Reader, resolver *i18n.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = i18n.NewResolver(nil, false)
	}
	e := &Engine{store: r, resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query runs spec and localizes the page for locale (spec.Locale when
// locale is empty). Store failures never surface as errors: the engine
// retries without translations and then falls back to the placeholder set.
// A done ctx short-circuits to an empty degraded result.
func (e *Engine) Query(ctx context.Context, spec filter.Spec, locale string) Result {
	if locale == "" {
		locale = spec.Locale
	}
	res := Result{Page: spec.Page, PageSize: spec.PageSize, Items: []model.LocalizedEvent{}}

	q := spec.Query()
	q.WithTranslations = true
	events, total, err := e.fetch(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			res.Outcome, res.Err = OutcomeDegraded, ctxErr
			return res
		}
		appLog.Warn("event query failed, retrying without translations", "err", err.Error())

		first := err
		q.WithTranslations = false
		events, total, err = e.fetch(ctx, q)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Outcome, res.Err = OutcomeDegraded, ctxErr
				return res
			}
			appLog.Error("event store unavailable, serving placeholder", err, "first_err", first.Error())
			events, total = e.placeholder(q)
			res.Outcome, res.Err = OutcomeDegraded, errors.Join(first, err)
		} else {
			res.Outcome, res.Err = OutcomeNoTranslations, first
		}
	}

	res.Total = total
	for _, ev := range events {
		res.Items = append(res.Items, e.resolver.Localize(ev, locale))
	}
	return res
}

func (e *Engine) fetch(ctx context.Context, q store.Query) ([]model.Event, int, error) {
	total, err := e.store.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	events, err := e.store.Find(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// placeholder returns the sample event when it satisfies q, along with the
// total it contributes.
func (e *Engine) placeholder(q store.Query) ([]model.Event, int) {
	ev := PlaceholderEvent(e.now())
	if !store.Match(q, ev) {
		return nil, 0
	}
	if q.Offset > 0 {
		return nil, 1
	}
	return []model.Event{ev}, 1
}

// PlaceholderEvent is the stand-in shown while the store is unreachable,
// starting at now.
func PlaceholderEvent(now time.Time) model.Event {
	start := now.UTC().Truncate(time.Millisecond)
	return model.Event{
		ID:          PlaceholderID,
		Slug:        "sample-event",
		Title:       PlaceholderTitle,
		Description: "Events will be back shortly.",
		StartAt:     start,
		EndAt:       start.Add(placeholderSpan),
		Timezone:    "UTC",
		Status:      model.StatusScheduled,
		CreatedAt:   start,
		UpdatedAt:   start,
		Venue:       &model.Venue{ID: "main-hall", Name: "Main Hall"},
		Categories:  []model.Category{{ID: "general", Name: "General", Slug: "general"}},
	}
}
