package eyetime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/screentime/internal/calendar"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
)

// DailyMinutes is the hourly breakdown of eye time for one local day.
type DailyMinutes struct {
	Date        string      `json:"date"`
	TotalUsage  float64     `json:"totalUsage"`
	HourlyStats [24]float64 `json:"hourlyStats"`
}

// RangeMinutes is the per-day eye time over a week or month.
type RangeMinutes struct {
	Offset      int                `json:"offset"`
	RangeStart  string             `json:"rangeStart"`
	RangeEnd    string             `json:"rangeEnd"`
	DailyTotals map[string]float64 `json:"dailyTotals"`
}

// Query reads aggregated eye time back out of storage.
type Query struct {
	tz       *timezone.Converter
	calendar *calendar.Calculator
	store    storage.EyeTimeStore
}

// NewQuery builds a Query over the given store.
func NewQuery(tz *timezone.Converter, cal *calendar.Calculator, store storage.EyeTimeStore) *Query {
	return &Query{tz: tz, calendar: cal, store: store}
}

// Daily sums eye time for the local day containing t. Buckets are keyed by
// local day start, so a point lookup suffices; a 24-hour window would pick
// up the neighboring day around a DST transition, where local days are 23
// or 25 hours long.
func (q *Query) Daily(ctx context.Context, t time.Time) (*DailyMinutes, error) {
	day := q.tz.LocalDayStart(t)
	out := &DailyMinutes{Date: q.tz.FormatDate(day)}

	bucket, err := q.store.GetDay(ctx, day)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("load eye time for %s: %w", out.Date, err)
	}

	var total float64
	for h, m := range bucket.Hourly {
		out.HourlyStats[h] = round2(m)
		total += m
	}
	out.TotalUsage = round2(total)
	return out, nil
}

// Weekly returns per-day eye time for the week weekOffset weeks back.
func (q *Query) Weekly(ctx context.Context, weekOffset int) (*RangeMinutes, error) {
	return q.overRange(ctx, weekOffset, q.calendar.WeekRange(weekOffset))
}

// Monthly returns per-day eye time for the month monthOffset months back.
func (q *Query) Monthly(ctx context.Context, monthOffset int) (*RangeMinutes, error) {
	return q.overRange(ctx, monthOffset, q.calendar.MonthRange(monthOffset))
}

func (q *Query) overRange(ctx context.Context, offset int, r calendar.Range) (*RangeMinutes, error) {
	out := &RangeMinutes{
		Offset:      offset,
		RangeStart:  q.tz.FormatDate(r.Start),
		RangeEnd:    q.tz.FormatDate(r.End),
		DailyTotals: make(map[string]float64),
	}

	days := r.Days(q.tz)
	if len(days) == 0 {
		return out, nil
	}
	buckets, err := q.store.ListRange(ctx, days[0], days[len(days)-1].Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("list eye time range: %w", err)
	}

	totals := make(map[int64]float64, len(buckets))
	for _, b := range buckets {
		totals[b.Day.Unix()] += b.Total()
	}
	for _, day := range days {
		out.DailyTotals[q.tz.FormatDate(day)] = round2(totals[day.Unix()])
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
