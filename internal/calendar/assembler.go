package calendar

import (
	"context"
	"time"

	"evcal/internal/filter"
	"evcal/internal/model"
	"evcal/internal/query"
	"evcal/internal/zone"
)

// Querier runs a filter. *query.Engine satisfies it.
type Querier interface {
	Query(ctx context.Context, spec filter.Spec, locale string) query.Result
}

type Options struct {
	WeekStart     time.Weekday
	BucketMode    BucketMode
	FeaturedLimit int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Assembler builds month, week and day views on top of a Querier.
type Assembler struct {
	q             Querier
	weekStart     time.Weekday
	bucketer      Bucketer
	featuredLimit int
	now           func() time.Time
}

func NewAssembler(q Querier, opts Options) *Assembler {
	a := &Assembler{
		q:             q,
		weekStart:     opts.WeekStart,
		bucketer:      Bucketer{Mode: opts.BucketMode},
		featuredLimit: opts.FeaturedLimit,
		now:           opts.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.featuredLimit <= 0 {
		a.featuredLimit = 6
	}
	return a
}

// MonthCell is a grid cell with the events filed under it.
type MonthCell struct {
	DayCell
	Key    string                 `json:"key"`
	Events []model.LocalizedEvent `json:"events"`
}

type MonthView struct {
	Year      int                           `json:"year"`
	Month     int                           `json:"month"`
	WeekStart time.Weekday                  `json:"week_start"`
	Range     zone.Window                   `json:"range"`
	Weeks     [GridRows][GridCols]MonthCell `json:"weeks"`
	Featured  []model.LocalizedEvent        `json:"featured"`
	Total     int                           `json:"total"`
	Truncated bool                          `json:"truncated"`
	Outcome   query.Outcome                 `json:"-"`
}

type WeekDay struct {
	Date   time.Time              `json:"date"`
	Key    string                 `json:"key"`
	Events []model.LocalizedEvent `json:"events"`
}

type WeekView struct {
	Start     time.Time     `json:"start"`
	Days      [7]WeekDay    `json:"days"`
	Total     int           `json:"total"`
	Truncated bool          `json:"truncated"`
	Outcome   query.Outcome `json:"-"`
}

type DayView struct {
	Date    string                 `json:"date"`
	Zone    string                 `json:"zone"`
	Window  zone.Window            `json:"window"`
	Items   []model.LocalizedEvent `json:"items"`
	Outcome query.Outcome          `json:"-"`
}

// Month builds the grid for monthIndex0 of year, fetches the events
// overlapping it (first page of spec) and the featured strip.
func (a *Assembler) Month(ctx context.Context, spec filter.Spec, year, monthIndex0 int) (MonthView, error) {
	grid, err := BuildGrid(year, monthIndex0, a.weekStart, a.now())
	if err != nil {
		return MonthView{}, err
	}
	rng := grid.Range()

	s := spec.WithWindow(a.bucketer.widen(rng))
	s.Page = 1
	res := a.q.Query(ctx, s, "")
	buckets := a.bucketer.BucketByDay(res.Items, grid.Cells())

	view := MonthView{
		Year:      year,
		Month:     monthIndex0 + 1,
		WeekStart: a.weekStart,
		Range:     rng,
		Total:     res.Total,
		Truncated: res.Total > len(res.Items),
		Outcome:   res.Outcome,
	}
	for w, row := range grid {
		for d, cell := range row {
			events := buckets[cell.Key()]
			if events == nil {
				events = []model.LocalizedEvent{}
			}
			view.Weeks[w][d] = MonthCell{DayCell: cell, Key: cell.Key(), Events: events}
		}
	}

	featured, outcome := a.featured(ctx, spec, rng)
	view.Featured = featured
	if outcome > view.Outcome {
		view.Outcome = outcome
	}
	return view, nil
}

// featured loads public featured events overlapping rng. Drafts and deleted
// events never appear, whatever the caller's profile.
func (a *Assembler) featured(ctx context.Context, spec filter.Spec, rng zone.Window) ([]model.LocalizedEvent, query.Outcome) {
	fs, err := filter.New(
		filter.WithFeaturedOnly(),
		filter.WithPage(1, a.featuredLimit),
		filter.WithLocale(spec.Locale),
	)
	if err != nil {
		return []model.LocalizedEvent{}, query.OutcomeDegraded
	}
	res := a.q.Query(ctx, fs.WithWindow(rng), "")
	return res.Items, res.Outcome
}

// Week fetches the seven UTC days around anchor and files events by day.
func (a *Assembler) Week(ctx context.Context, spec filter.Spec, anchor time.Time) (WeekView, error) {
	if a.weekStart != time.Sunday && a.weekStart != time.Monday {
		return WeekView{}, ErrInvalidWeekStart
	}
	days := WeekDays(anchor, a.weekStart)
	rng := zone.Window{
		Start: zone.DayBoundsOf(days[0], time.UTC).Start,
		End:   zone.DayBoundsOf(days[6], time.UTC).End,
	}

	s := spec.WithWindow(a.bucketer.widen(rng))
	s.Page = 1
	res := a.q.Query(ctx, s, "")

	cells := make([]DayCell, len(days))
	for i, d := range days {
		cells[i] = DayCell{Date: d}
	}
	buckets := a.bucketer.BucketByDay(res.Items, cells)

	view := WeekView{
		Start:     days[0],
		Total:     res.Total,
		Truncated: res.Total > len(res.Items),
		Outcome:   res.Outcome,
	}
	for i, d := range days {
		key := DateKey(d)
		events := buckets[key]
		if events == nil {
			events = []model.LocalizedEvent{}
		}
		view.Days[i] = WeekDay{Date: d, Key: key, Events: events}
	}
	return view, nil
}

// Day lists the events overlapping the local calendar day in spec.Zone
// (UTC when unset).
func (a *Assembler) Day(ctx context.Context, spec filter.Spec, year int, month time.Month, day int) (DayView, error) {
	loc := spec.Zone
	if loc == nil {
		loc = time.UTC
	}
	w := zone.DayBounds(year, month, day, loc)
	res := a.q.Query(ctx, spec.WithWindow(w), "")

	return DayView{
		Date:    w.Start.In(loc).Format(time.DateOnly),
		Zone:    loc.String(),
		Window:  w,
		Items:   FilterDay(res.Items, w),
		Outcome: res.Outcome,
	}, nil
}
