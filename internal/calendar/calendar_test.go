package calendar

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"evcal/internal/filter"
	"evcal/internal/i18n"
	"evcal/internal/model"
	"evcal/internal/query"
	"evcal/internal/store"
	"evcal/internal/zone"
)

var now = time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)

func TestBuildGridShape(t *testing.T) {
	for year := 2023; year <= 2026; year++ {
		for m := 0; m < 12; m++ {
			for _, ws := range []time.Weekday{time.Sunday, time.Monday} {
				g, err := BuildGrid(year, m, ws, now)
				if err != nil {
					t.Fatalf("BuildGrid(%d, %d, %v): %v", year, m, ws, err)
				}
				cells := g.Cells()
				if len(cells) != 42 {
					t.Fatalf("cells = %d", len(cells))
				}
				if cells[0].Date.Weekday() != ws {
					t.Errorf("%d-%02d: grid starts on %v", year, m+1, cells[0].Date.Weekday())
				}
				daysIn := time.Date(year, time.Month(m+2), 0, 0, 0, 0, 0, time.UTC).Day()
				inMonth := 0
				for i, c := range cells {
					if i > 0 && !c.Date.Equal(cells[i-1].Date.AddDate(0, 0, 1)) {
						t.Fatalf("cells not consecutive at %d", i)
					}
					want := c.Date.Month() == time.Month(m+1) && c.Date.Year() == year
					if c.InCurrentMonth != want {
						t.Errorf("%s: InCurrentMonth = %v", c.Key(), c.InCurrentMonth)
					}
					if c.InCurrentMonth {
						inMonth++
					}
				}
				if inMonth != daysIn {
					t.Errorf("%d-%02d: %d in-month cells, want %d", year, m+1, inMonth, daysIn)
				}
			}
		}
	}
}

func TestBuildGridJune2024(t *testing.T) {
	g, err := BuildGrid(2024, 5, time.Monday, now)
	if err != nil {
		t.Fatal(err)
	}
	if got := g[0][0].Key(); got != "2024-05-27" {
		t.Errorf("first cell = %s, want 2024-05-27", got)
	}
	if got := g[5][6].Key(); got != "2024-07-07" {
		t.Errorf("last cell = %s, want 2024-07-07", got)
	}
	today := 0
	for _, c := range g.Cells() {
		if c.IsToday {
			today++
			if c.Key() != "2024-06-12" {
				t.Errorf("today flagged on %s", c.Key())
			}
		}
	}
	if today != 1 {
		t.Errorf("today flagged %d times", today)
	}

	rng := g.Range()
	if !rng.Start.Equal(time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC)) ||
		!rng.End.Equal(time.Date(2024, 7, 7, 23, 59, 59, 999e6, time.UTC)) {
		t.Errorf("range = %v..%v", rng.Start, rng.End)
	}

	sun, err := BuildGrid(2024, 5, time.Sunday, now)
	if err != nil {
		t.Fatal(err)
	}
	if got := sun[0][0].Key(); got != "2024-05-26" {
		t.Errorf("sunday-start first cell = %s", got)
	}
}

func TestBuildGridRejects(t *testing.T) {
	if _, err := BuildGrid(2024, 12, time.Monday, now); !errors.Is(err, ErrInvalidMonth) {
		t.Errorf("month 12: err = %v", err)
	}
	if _, err := BuildGrid(2024, -1, time.Monday, now); !errors.Is(err, ErrInvalidMonth) {
		t.Errorf("month -1: err = %v", err)
	}
	if _, err := BuildGrid(2024, 0, time.Wednesday, now); !errors.Is(err, ErrInvalidWeekStart) {
		t.Errorf("wednesday: err = %v", err)
	}
}

func TestNormalizeMonth(t *testing.T) {
	tests := []struct{ y, m1, wantY, wantIdx int }{
		{2024, 1, 2024, 0},
		{2024, 12, 2024, 11},
		{2024, 13, 2025, 0},
		{2024, 0, 2023, 11},
	}
	for _, tt := range tests {
		y, idx := NormalizeMonth(tt.y, tt.m1)
		if y != tt.wantY || idx != tt.wantIdx {
			t.Errorf("NormalizeMonth(%d, %d) = %d, %d", tt.y, tt.m1, y, idx)
		}
	}
}

func TestWeekDays(t *testing.T) {
	anchor := time.Date(2024, 6, 12, 23, 0, 0, 0, time.UTC)
	mon := WeekDays(anchor, time.Monday)
	if DateKey(mon[0]) != "2024-06-10" || DateKey(mon[6]) != "2024-06-16" {
		t.Errorf("monday week = %s..%s", DateKey(mon[0]), DateKey(mon[6]))
	}
	sun := WeekDays(anchor, time.Sunday)
	if DateKey(sun[0]) != "2024-06-09" || DateKey(sun[6]) != "2024-06-15" {
		t.Errorf("sunday week = %s..%s", DateKey(sun[0]), DateKey(sun[6]))
	}
	onStart := WeekDays(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), time.Monday)
	if DateKey(onStart[0]) != "2024-06-10" {
		t.Errorf("anchor on week start = %s", DateKey(onStart[0]))
	}
}

func localized(id string, start time.Time, tz string) model.LocalizedEvent {
	return model.LocalizedEvent{Event: model.Event{ID: id, StartAt: start, EndAt: start.Add(time.Hour), Timezone: tz}}
}

func TestBucketByDay(t *testing.T) {
	g, err := BuildGrid(2024, 5, time.Monday, now)
	if err != nil {
		t.Fatal(err)
	}
	events := []model.LocalizedEvent{
		localized("late", time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC), "Europe/Helsinki"),
		localized("noon", time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC), "Europe/Helsinki"),
		localized("bad-zone", time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC), "Mars/Base"),
		localized("outside", time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC), "UTC"),
	}

	t.Run("utc", func(t *testing.T) {
		got := Bucketer{Mode: BucketUTC}.BucketByDay(events, g.Cells())
		if ids := keys(got["2024-06-14"]); !reflect.DeepEqual(ids, []string{"late", "noon", "bad-zone"}) {
			t.Errorf("2024-06-14 = %v", ids)
		}
		if len(got) != 1 {
			t.Errorf("buckets = %v", got)
		}
	})

	t.Run("event zone", func(t *testing.T) {
		got := Bucketer{Mode: BucketEventZone}.BucketByDay(events, g.Cells())
		if ids := keys(got["2024-06-15"]); !reflect.DeepEqual(ids, []string{"late"}) {
			t.Errorf("2024-06-15 = %v", ids)
		}
		if ids := keys(got["2024-06-14"]); !reflect.DeepEqual(ids, []string{"noon", "bad-zone"}) {
			t.Errorf("2024-06-14 = %v", ids)
		}
	})
}

func keys(events []model.LocalizedEvent) []string {
	out := []string{}
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func TestParseBucketMode(t *testing.T) {
	if m, err := ParseBucketMode(""); err != nil || m != BucketUTC {
		t.Errorf(`"" = %v, %v`, m, err)
	}
	if m, err := ParseBucketMode("EVENT_ZONE"); err != nil || m != BucketEventZone {
		t.Errorf("event_zone = %v, %v", m, err)
	}
	if _, err := ParseBucketMode("local"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestFilterDay(t *testing.T) {
	w := zone.DayBounds(2024, time.June, 15, nil)
	events := []model.LocalizedEvent{
		localized("before", time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC), ""),
		localized("spans", time.Date(2024, 6, 14, 23, 30, 0, 0, time.UTC), ""),
		localized("after", time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), ""),
	}
	if got := keys(FilterDay(events, w)); !reflect.DeepEqual(got, []string{"spans"}) {
		t.Errorf("FilterDay = %v", got)
	}
}

func event(id string, start, end time.Time, mut ...func(*model.Event)) model.Event {
	e := model.Event{ID: id, Slug: id, Title: id, StartAt: start, EndAt: end, Timezone: "UTC",
		Status: model.StatusScheduled, CreatedAt: start, UpdatedAt: start}
	for _, m := range mut {
		m(&e)
	}
	return e
}

func newAssembler(t *testing.T, mode BucketMode, events ...model.Event) *Assembler {
	t.Helper()
	clock := func() time.Time { return now }
	eng := query.NewEngine(store.NewMemory(events...), i18n.NewResolver(nil, false), query.WithClock(clock))
	return NewAssembler(eng, Options{WeekStart: time.Monday, BucketMode: mode, FeaturedLimit: 2, Now: clock})
}

func calendarSpec(t *testing.T, opts ...filter.Option) filter.Spec {
	t.Helper()
	s, err := filter.New(append([]filter.Option{filter.WithProfile(filter.ProfileCalendar)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAssemblerMonth(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 6, d, h, 0, 0, 0, time.UTC) }
	featured := func(e *model.Event) { e.IsFeatured = true }
	draft := func(e *model.Event) { e.Status = model.StatusDraft }
	deleted := func(e *model.Event) { d := day(1, 0); e.DeletedAt = &d }

	a := newAssembler(t, BucketUTC,
		event("spill-in", day(27, 0).AddDate(0, -1, 0), day(27, 1).AddDate(0, -1, 0)),
		event("mid", day(12, 18), day(12, 20), featured),
		event("fest", day(20, 10), day(22, 22), featured),
		event("hidden", day(13, 10), day(13, 11), featured, draft),
		event("gone", day(14, 10), day(14, 11), featured, deleted),
		event("later", day(28, 10), day(28, 11), featured),
		event("august", time.Date(2024, 8, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 8, 2, 1, 0, 0, 0, time.UTC), featured),
	)

	v, err := a.Month(context.Background(), calendarSpec(t), 2024, 5)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != query.OutcomeOK || v.Month != 6 || v.Total != 4 || v.Truncated {
		t.Errorf("view = month %d total %d truncated %v outcome %v", v.Month, v.Total, v.Truncated, v.Outcome)
	}
	if got := keys(v.Weeks[0][0].Events); !reflect.DeepEqual(got, []string{"spill-in"}) || v.Weeks[0][0].InCurrentMonth {
		t.Errorf("first cell %s = %v", v.Weeks[0][0].Key, got)
	}
	if got := keys(v.Weeks[3][3].Events); v.Weeks[3][3].Key != "2024-06-20" || !reflect.DeepEqual(got, []string{"fest"}) {
		t.Errorf("cell %s = %v", v.Weeks[3][3].Key, got)
	}
	if v.Weeks[2][3].Key != "2024-06-13" || len(v.Weeks[2][3].Events) != 0 {
		t.Errorf("draft leaked into %s", v.Weeks[2][3].Key)
	}
	if v.Weeks[1][4].Events == nil {
		t.Error("empty cell has nil events")
	}
	if got := keys(v.Featured); !reflect.DeepEqual(got, []string{"mid", "fest"}) {
		t.Errorf("featured = %v", got)
	}
}

func TestAssemblerMonthTruncated(t *testing.T) {
	var events []model.Event
	for i := 1; i <= 5; i++ {
		s := time.Date(2024, 6, i, 12, 0, 0, 0, time.UTC)
		events = append(events, event(string(rune('a'+i-1)), s, s.Add(time.Hour)))
	}
	a := newAssembler(t, BucketUTC, events...)
	v, err := a.Month(context.Background(), calendarSpec(t, filter.WithPage(3, 3)), 2024, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Truncated || v.Total != 5 {
		t.Errorf("truncated %v total %d", v.Truncated, v.Total)
	}
	if got := keys(v.Weeks[0][5].Events); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("month view did not restart at page 1: %v", got)
	}
}

func TestAssemblerMonthInvalid(t *testing.T) {
	a := newAssembler(t, BucketUTC)
	if _, err := a.Month(context.Background(), calendarSpec(t), 2024, 12); !errors.Is(err, ErrInvalidMonth) {
		t.Errorf("err = %v", err)
	}
}

func TestAssemblerWeek(t *testing.T) {
	late := event("late", time.Date(2024, 6, 16, 22, 30, 0, 0, time.UTC), time.Date(2024, 6, 16, 23, 30, 0, 0, time.UTC),
		func(e *model.Event) { e.Timezone = "Europe/Helsinki" })
	mid := event("mid", time.Date(2024, 6, 19, 12, 0, 0, 0, time.UTC), time.Date(2024, 6, 19, 13, 0, 0, 0, time.UTC))
	anchor := time.Date(2024, 6, 19, 0, 0, 0, 0, time.UTC)

	t.Run("utc", func(t *testing.T) {
		v, err := newAssembler(t, BucketUTC, late, mid).Week(context.Background(), calendarSpec(t), anchor)
		if err != nil {
			t.Fatal(err)
		}
		if DateKey(v.Start) != "2024-06-17" || v.Total != 1 {
			t.Errorf("start %s total %d", DateKey(v.Start), v.Total)
		}
		if got := keys(v.Days[2].Events); !reflect.DeepEqual(got, []string{"mid"}) {
			t.Errorf("wednesday = %v", got)
		}
		if len(v.Days[0].Events) != 0 {
			t.Errorf("monday = %v", keys(v.Days[0].Events))
		}
	})

	t.Run("event zone", func(t *testing.T) {
		v, err := newAssembler(t, BucketEventZone, late, mid).Week(context.Background(), calendarSpec(t), anchor)
		if err != nil {
			t.Fatal(err)
		}
		if got := keys(v.Days[0].Events); !reflect.DeepEqual(got, []string{"late"}) {
			t.Errorf("monday = %v", got)
		}
		if got := keys(v.Days[2].Events); !reflect.DeepEqual(got, []string{"mid"}) {
			t.Errorf("wednesday = %v", got)
		}
	})
}

func TestAssemblerDayHelsinki(t *testing.T) {
	e1 := event("E1", time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC), time.Date(2024, 6, 15, 0, 30, 0, 0, time.UTC),
		func(e *model.Event) { e.Timezone = "Europe/Helsinki" })
	other := event("next", time.Date(2024, 6, 15, 21, 30, 0, 0, time.UTC), time.Date(2024, 6, 15, 22, 0, 0, 0, time.UTC))
	a := newAssembler(t, BucketUTC, e1, other)

	v, err := a.Day(context.Background(), calendarSpec(t, filter.WithZone("Europe/Helsinki")), 2024, time.June, 15)
	if err != nil {
		t.Fatal(err)
	}
	if v.Date != "2024-06-15" || v.Zone != "Europe/Helsinki" {
		t.Errorf("date %s zone %s", v.Date, v.Zone)
	}
	if !v.Window.Start.Equal(time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("window start = %v", v.Window.Start)
	}
	if got := keys(v.Items); !reflect.DeepEqual(got, []string{"E1"}) {
		t.Errorf("items = %v", got)
	}

	utc, err := a.Day(context.Background(), calendarSpec(t), 2024, time.June, 15)
	if err != nil {
		t.Fatal(err)
	}
	if got := keys(utc.Items); !reflect.DeepEqual(got, []string{"E1", "next"}) || utc.Zone != "UTC" {
		t.Errorf("utc items = %v zone %s", got, utc.Zone)
	}
}

func TestAssemblerDegraded(t *testing.T) {
	eng := query.NewEngine(failingReader{}, nil, query.WithClock(func() time.Time { return now }))
	a := NewAssembler(eng, Options{WeekStart: time.Monday, Now: func() time.Time { return now }})

	v, err := a.Month(context.Background(), calendarSpec(t), 2024, 5)
	if err != nil {
		t.Fatal(err)
	}
	if v.Outcome != query.OutcomeDegraded {
		t.Errorf("outcome = %v", v.Outcome)
	}
	if got := keys(v.Weeks[2][2].Events); v.Weeks[2][2].Key != "2024-06-12" || !reflect.DeepEqual(got, []string{query.PlaceholderID}) {
		t.Errorf("placeholder cell %s = %v", v.Weeks[2][2].Key, got)
	}
}

type failingReader struct{}

func (failingReader) Find(context.Context, store.Query) ([]model.Event, error) {
	return nil, store.ErrUnavailable
}

func (failingReader) Count(context.Context, store.Query) (int, error) {
	return 0, store.ErrUnavailable
}
