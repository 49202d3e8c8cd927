// Package calendar lays events out as month grids, week columns and day
// lists.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"evcal/internal/zone"
)

var (
	ErrInvalidMonth     = errors.New("month index out of range")
	ErrInvalidWeekStart = errors.New("week must start on Sunday or Monday")
)

const (
	GridRows = 6
	GridCols = 7
)

// DayCell is one square of the month grid. Date is UTC midnight.
type DayCell struct {
	Date           time.Time `json:"date"`
	InCurrentMonth bool      `json:"in_current_month"`
	IsToday        bool      `json:"is_today"`
}

// Key is the cell's bucket key.
func (c DayCell) Key() string { return DateKey(c.Date) }

// Grid is six weeks of seven days.
type Grid [GridRows][GridCols]DayCell

// BuildGrid returns the 42 UTC days displayed for monthIndex0 (0 = January)
// of year, starting on weekStartsOn. IsToday compares against now's UTC
// date.
func BuildGrid(year, monthIndex0 int, weekStartsOn time.Weekday, now time.Time) (Grid, error) {
	var g Grid
	if monthIndex0 < 0 || monthIndex0 > 11 {
		return g, fmt.Errorf("%w: %d", ErrInvalidMonth, monthIndex0)
	}
	if weekStartsOn != time.Sunday && weekStartsOn != time.Monday {
		return g, fmt.Errorf("%w: %d", ErrInvalidWeekStart, weekStartsOn)
	}

	month := time.Month(monthIndex0 + 1)
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(first.Weekday()) - int(weekStartsOn) + 7) % 7
	start := first.AddDate(0, 0, -offset)
	today := DateKey(now)

	for w := 0; w < GridRows; w++ {
		for d := 0; d < GridCols; d++ {
			date := start.AddDate(0, 0, w*GridCols+d)
			g[w][d] = DayCell{
				Date:           date,
				InCurrentMonth: date.Month() == month,
				IsToday:        DateKey(date) == today,
			}
		}
	}
	return g, nil
}

// NormalizeMonth maps a 1-based navigation month, possibly out of range,
// to a year and a 0-based month index. 13 becomes January of the next year.
func NormalizeMonth(year, month1 int) (int, int) {
	t := time.Date(year, time.Month(month1), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), int(t.Month()) - 1
}

// Cells returns the grid row by row.
func (g Grid) Cells() []DayCell {
	out := make([]DayCell, 0, GridRows*GridCols)
	for _, row := range g {
		out = append(out, row[:]...)
	}
	return out
}

// Range spans the first cell's 00:00 to the last cell's 23:59:59.999 UTC.
func (g Grid) Range() zone.Window {
	first := g[0][0].Date
	last := g[GridRows-1][GridCols-1].Date
	return zone.Window{
		Start: zone.DayBoundsOf(first, time.UTC).Start,
		End:   zone.DayBoundsOf(last, time.UTC).End,
	}
}

// DateKey formats t's UTC calendar date as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// WeekDays returns the UTC midnights of the week containing anchor's UTC
// date.
func WeekDays(anchor time.Time, weekStartsOn time.Weekday) [7]time.Time {
	y, m, d := anchor.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	back := (int(day.Weekday()) - int(weekStartsOn) + 7) % 7
	start := day.AddDate(0, 0, -back)

	var out [7]time.Time
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}
