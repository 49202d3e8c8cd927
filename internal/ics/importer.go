package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/store"
	"evcal/internal/zone"
)

// idNamespace seeds the name-based UUIDs of imported rows so re-importing a
// feed updates events in place.
var idNamespace = uuid.MustParse("6f1d3c1e-4b47-5a8e-9c3e-0e5aa7d6c0b1")

// FeedFetcher is satisfied by *Fetcher.
type FeedFetcher interface {
	FetchAll(ctx context.Context, feeds []Feed) ([]FetchResult, error)
}

type ImporterOptions struct {
	// Horizon is how far ahead recurring series are expanded (default 180 days).
	Horizon time.Duration
	// Backfill keeps recently finished events (default 7 days).
	Backfill       time.Duration
	MaxOccurrences int
	Now            func() time.Time
}

// Importer pulls the configured feeds into the event store.
type Importer struct {
	fetcher FeedFetcher
	writer  store.Writer
	feeds   []Feed
	opts    ImporterOptions
}

func NewImporter(f FeedFetcher, w store.Writer, feeds []Feed, opts ImporterOptions) *Importer {
	if opts.Horizon <= 0 {
		opts.Horizon = 180 * 24 * time.Hour
	}
	if opts.Backfill <= 0 {
		opts.Backfill = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{fetcher: f, writer: w, feeds: feeds, opts: opts}
}

// Report summarises one import run.
type Report struct {
	Feeds     int
	FromCache int
	Events    int
	Truncated []string
}

// Run fetches, parses and expands every feed and upserts the resulting
// events. Feeds that fail are skipped; their errors are joined into the
// returned error alongside a report of what was stored. A store failure
// aborts the run.
func (im *Importer) Run(ctx context.Context) (Report, error) {
	var rep Report
	now := im.opts.Now().UTC()
	window := zone.Window{Start: now.Add(-im.opts.Backfill), End: now.Add(im.opts.Horizon)}

	results, fetchErr := im.fetcher.FetchAll(ctx, im.feeds)
	errs := []error{fetchErr}

	var events []model.Event
	for _, res := range results {
		rep.Feeds++
		if res.FromCache {
			rep.FromCache++
		}
		parsed, err := ParseICS(res.Feed, res.Body)
		if err != nil {
			appLog.Error("ics parse failed", err, "feed", res.Feed.ID)
			errs = append(errs, fmt.Errorf("feed %s: %w", res.Feed.ID, err))
			continue
		}
		exp, err := ExpandOccurrences(parsed, ExpandConfig{Window: window, MaxOccurrences: im.opts.MaxOccurrences})
		if err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", res.Feed.ID, err))
			continue
		}
		rep.Truncated = append(rep.Truncated, exp.Truncated...)
		for _, occ := range exp.Occurrences {
			events = append(events, ToEvent(occ, now))
		}
	}

	events = dedupe(events)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if len(events) > 0 {
		if err := im.writer.UpsertEvents(ctx, events); err != nil {
			return rep, fmt.Errorf("upsert imported events: %w", err)
		}
	}
	rep.Events = len(events)
	appLog.Info("ics import done", "feeds", rep.Feeds, "from_cache", rep.FromCache, "events", rep.Events)
	return rep, errors.Join(errs...)
}

// dedupe keeps the last event per ID, in first-seen order.
func dedupe(events []model.Event) []model.Event {
	idx := make(map[string]int, len(events))
	out := events[:0]
	for _, e := range events {
		if i, ok := idx[e.ID]; ok {
			out[i] = e
			continue
		}
		idx[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// ToEvent maps one occurrence to a stored event.
func ToEvent(occ Occurrence, now time.Time) model.Event {
	ev := occ.Event
	feed := ev.Feed
	id := nameID("event", feed.ID, ev.UID, occ.InstanceKey)

	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}
	end := occ.End
	// DATE values end at the next midnight; stored windows are inclusive.
	if ev.AllDay && end.After(occ.Start) {
		end = end.Add(-time.Millisecond)
	}

	out := model.Event{
		ID:          id,
		Slug:        Slugify(title) + "-" + id[:8],
		Title:       title,
		Description: ev.Description,
		StartAt:     occ.Start.UTC(),
		EndAt:       end.UTC(),
		Timezone:    eventZone(ev),
		Status:      mapStatus(ev.Status),
		IsOnline:    feed.Online || looksLikeURL(ev.Location),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if ev.Location != "" && !looksLikeURL(ev.Location) {
		out.Venue = &model.Venue{ID: nameID("venue", strings.ToLower(ev.Location)), Name: ev.Location}
	}
	if feed.Organizer != "" {
		out.Organizer = &model.Organizer{
			ID:   nameID("organizer", strings.ToLower(feed.Organizer)),
			Name: feed.Organizer,
			Slug: Slugify(feed.Organizer),
		}
	}
	if feed.Category != "" {
		name := feed.CategoryName
		if name == "" {
			name = feed.Category
		}
		out.Categories = appendCategory(out.Categories, feed.Category, name)
	}
	for _, c := range ev.Categories {
		out.Categories = appendCategory(out.Categories, Slugify(c), c)
	}
	for _, t := range ev.Translations {
		t.EventID = id
		out.Translations = append(out.Translations, t)
	}
	return out
}

func appendCategory(cats []model.Category, slug, name string) []model.Category {
	if slug == "" {
		return cats
	}
	for _, c := range cats {
		if c.Slug == slug {
			return cats
		}
	}
	return append(cats, model.Category{ID: nameID("category", slug), Slug: slug, Name: name})
}

func nameID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\n"))).String()
}

func eventZone(ev ParsedEvent) string {
	for _, name := range []string{ev.TZID, ev.Feed.Timezone} {
		if name == "" {
			continue
		}
		if _, err := zone.Load(name); err == nil {
			return name
		}
	}
	return "UTC"
}

func mapStatus(s string) model.Status {
	switch s {
	case "CANCELLED":
		return model.StatusCancelled
	case "TENTATIVE":
		return model.StatusDraft
	default:
		return model.StatusScheduled
	}
}

func looksLikeURL(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Slugify lowercases s and joins its letter and digit runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "event"
	}
	return b.String()
}
