package calendar

import (
	"time"

	"github.com/goodtune/screentime/internal/timezone"
)

// Range is a pair of inclusive local calendar day boundaries, each held as
// the UTC instant of the corresponding local midnight.
type Range struct {
	Start time.Time
	End   time.Time
}

// Days returns the local-midnight key of every day in the range, in order.
// These are the candidate bucket keys for a range query.
func (r Range) Days(tz *timezone.Converter) []time.Time {
	var days []time.Time
	for d := r.Start; !d.After(r.End); d = nextDay(tz, d) {
		days = append(days, d)
	}
	return days
}

func nextDay(tz *timezone.Converter, dayStart time.Time) time.Time {
	// Stepping 36h into the day and truncating lands on the next local
	// midnight even across DST transitions (local days are 23-25h long).
	return tz.LocalDayStart(dayStart.Add(36 * time.Hour))
}

// Calculator computes local-calendar week and month boundaries.
type Calculator struct {
	tz    *timezone.Converter
	clock Clock
}

// NewCalculator returns a Calculator for the given timezone.
func NewCalculator(tz *timezone.Converter, clock Clock) *Calculator {
	if clock == nil {
		clock = RealClock{}
	}
	return &Calculator{tz: tz, clock: clock}
}

// Today returns the local-midnight key of the current local day.
func (c *Calculator) Today() time.Time {
	return c.tz.LocalDayStart(c.clock.Now())
}

// WeekRange returns the Monday..Sunday range of the week weekOffset weeks
// from the current one. The current week (offset 0) is clamped so End never
// exceeds today; historical weeks are returned in full.
func (c *Calculator) WeekRange(weekOffset int) Range {
	today := c.Today()
	local := today.In(c.tz.Location())

	// Monday-first regardless of locale; Go makes Sunday weekday 0.
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	monday := local.AddDate(0, 0, -(weekday-1)+7*weekOffset)
	monday = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, c.tz.Location())
	sunday := monday.AddDate(0, 0, 6)

	r := Range{Start: monday.UTC(), End: sunday.UTC()}
	if weekOffset == 0 && r.End.After(today) {
		r.End = today
	}
	return r
}

// MonthRange returns the first..last day range of the month monthOffset
// months from the current one, with the same clamp rule as WeekRange.
func (c *Calculator) MonthRange(monthOffset int) Range {
	today := c.Today()
	local := today.In(c.tz.Location())

	first := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.tz.Location())
	first = first.AddDate(0, monthOffset, 0)
	// Day 0 of the following month is the last day of this one.
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, c.tz.Location())

	r := Range{Start: first.UTC(), End: last.UTC()}
	if monthOffset == 0 && r.End.After(today) {
		r.End = today
	}
	return r
}
