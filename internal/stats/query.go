// Package stats answers usage questions over the stored per-app buckets:
// daily hourly breakdowns and per-day totals across weeks and months.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/screentime/internal/calendar"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
)

// DailyStats is the full breakdown for one local day. An empty deviceID in
// the query aggregates across all devices.
type DailyStats struct {
	Date           string                 `json:"date"`
	TotalUsage     float64                `json:"totalUsage"`
	AppStats       map[string]float64     `json:"appStats"`
	HourlyStats    [24]float64            `json:"hourlyStats"`
	AppHourlyStats map[string][24]float64 `json:"appHourlyStats"`
}

// RangeStats holds per-day totals over a week or month, overall and per app.
// Days without any recorded usage are absent from the maps.
type RangeStats struct {
	Offset        int                           `json:"offset"`
	RangeStart    string                        `json:"rangeStart"`
	RangeEnd      string                        `json:"rangeEnd"`
	DailyTotals   map[string]float64            `json:"dailyTotals"`
	AppDailyStats map[string]map[string]float64 `json:"appDailyStats"`
}

// Query reads aggregated app usage out of a UsageStore. Buckets are keyed by
// local day and their hour slots are local hours, so aggregation is direct
// accumulation with no timezone re-mapping.
type Query struct {
	tz       *timezone.Converter
	calendar *calendar.Calculator
	store    storage.UsageStore
}

// NewQuery builds a Query over the given store.
func NewQuery(tz *timezone.Converter, cal *calendar.Calculator, store storage.UsageStore) *Query {
	return &Query{tz: tz, calendar: cal, store: store}
}

// Daily breaks down usage for the local day containing t. deviceID may be
// empty to aggregate every device.
func (q *Query) Daily(ctx context.Context, deviceID string, t time.Time) (*DailyStats, error) {
	day := q.tz.LocalDayStart(t)
	buckets, err := q.store.ListBuckets(ctx, storage.BucketFilter{
		DeviceID: deviceID,
		Days:     []time.Time{day},
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets for %s: %w", q.tz.FormatDate(day), err)
	}

	out := &DailyStats{
		Date:           q.tz.FormatDate(day),
		AppStats:       make(map[string]float64),
		AppHourlyStats: make(map[string][24]float64),
	}
	for _, b := range buckets {
		appHourly := out.AppHourlyStats[b.AppName]
		for h, minutes := range b.Hourly {
			if minutes == 0 {
				continue
			}
			out.HourlyStats[h] = round2(out.HourlyStats[h] + minutes)
			appHourly[h] = round2(appHourly[h] + minutes)
			out.AppStats[b.AppName] = round2(out.AppStats[b.AppName] + minutes)
			out.TotalUsage += minutes
		}
		if b.Total() > 0 {
			out.AppHourlyStats[b.AppName] = appHourly
		}
	}
	out.TotalUsage = round2(out.TotalUsage)
	return out, nil
}

// Weekly aggregates per-day usage for the week weekOffset weeks back.
// deviceID and appName may each be empty to mean "all".
func (q *Query) Weekly(ctx context.Context, deviceID, appName string, weekOffset int) (*RangeStats, error) {
	return q.overRange(ctx, deviceID, appName, weekOffset, q.calendar.WeekRange(weekOffset))
}

// Monthly aggregates per-day usage for the month monthOffset months back.
func (q *Query) Monthly(ctx context.Context, deviceID, appName string, monthOffset int) (*RangeStats, error) {
	return q.overRange(ctx, deviceID, appName, monthOffset, q.calendar.MonthRange(monthOffset))
}

func (q *Query) overRange(ctx context.Context, deviceID, appName string, offset int, r calendar.Range) (*RangeStats, error) {
	buckets, err := q.store.ListBuckets(ctx, storage.BucketFilter{
		DeviceID: deviceID,
		AppName:  appName,
		Days:     r.Days(q.tz),
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets in range: %w", err)
	}

	out := &RangeStats{
		Offset:        offset,
		RangeStart:    q.tz.FormatDate(r.Start),
		RangeEnd:      q.tz.FormatDate(r.End),
		DailyTotals:   make(map[string]float64),
		AppDailyStats: make(map[string]map[string]float64),
	}
	for _, b := range buckets {
		total := b.Total()
		if total == 0 {
			continue
		}
		dateKey := q.tz.FormatDate(b.Day)
		out.DailyTotals[dateKey] = round2(out.DailyTotals[dateKey] + total)
		perDay := out.AppDailyStats[b.AppName]
		if perDay == nil {
			perDay = make(map[string]float64)
			out.AppDailyStats[b.AppName] = perDay
		}
		perDay[dateKey] = round2(perDay[dateKey] + total)
	}
	// A requested app always has an entry, even an empty one.
	if appName != "" {
		if _, ok := out.AppDailyStats[appName]; !ok {
			out.AppDailyStats[appName] = make(map[string]float64)
		}
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
