// Package distributor splits closed activity intervals into per-local-hour
// minute contributions and accumulates them into day buckets.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
	"github.com/rs/zerolog"
)

const (
	// maxSlotMinutes caps every hourly slot; minutes beyond it spill into
	// the following hour.
	maxSlotMinutes = 60.0

	// maxSpanDays bounds a single distribution. A cursor that walks more
	// than this far past the interval start (a clock jump, a bucket file
	// full of capped hours) aborts and the remainder is dropped.
	maxSpanDays = 30

	// epsilon absorbs float drift; remainders below it count as zero.
	epsilon = 0.01
)

// Distributor writes interval minutes into usage buckets.
type Distributor struct {
	tz     *timezone.Converter
	store  storage.UsageStore
	logger zerolog.Logger
}

// New creates a Distributor.
func New(tz *timezone.Converter, store storage.UsageStore, logger zerolog.Logger) *Distributor {
	return &Distributor{
		tz:     tz,
		store:  store,
		logger: logger.With().Str("component", "distributor").Logger(),
	}
}

// round2 rounds to 2-decimal minute precision.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Distribute allocates durationMinutes of usage starting at start across
// hourly bucket slots. Non-positive durations are a no-op. A storage failure
// aborts the current bucket write and propagates; buckets already written in
// this call stay committed. Minutes that cannot be placed within the 30-day
// span are logged and counted, not an error.
func (d *Distributor) Distribute(ctx context.Context, deviceID, appName string, start time.Time, durationMinutes float64) error {
	if durationMinutes <= 0 {
		return nil
	}

	remaining := round2(durationMinutes)
	cursor := start

	for remaining > 0 {
		day := d.tz.LocalDayStart(cursor)
		hour, minute, second := d.tz.LocalClock(cursor)

		bucket, err := d.loadOrCreate(ctx, deviceID, day, appName)
		if err != nil {
			return err
		}

		minutesToNextHour := maxSlotMinutes - float64(minute) - float64(second)/60
		availableSpace := math.Max(0, maxSlotMinutes-bucket.Hourly[hour])

		take := round2(math.Min(remaining, math.Min(minutesToNextHour, availableSpace)))
		if take > 0 {
			bucket.Hourly[hour] = round2(bucket.Hourly[hour] + take)
			if err := d.store.PutBucket(ctx, *bucket); err != nil {
				metrics.StorageErrors.WithLabelValues("put_bucket").Inc()
				return fmt.Errorf("persist bucket %s/%s: %w", deviceID, appName, err)
			}
			metrics.MinutesRecorded.WithLabelValues(deviceID).Add(take)
			remaining = round2(remaining - take)
		}

		if remaining < epsilon {
			remaining = 0
			break
		}

		// The hour is exhausted, either used up by this allocation or
		// already at the 60-minute cap; spill into the next local hour.
		cursor = d.tz.NextHourStart(cursor)

		if cursor.Sub(start) > maxSpanDays*24*time.Hour {
			d.logger.Warn().
				Str("device_id", deviceID).
				Str("app_name", appName).
				Time("start", start).
				Float64("unallocated_minutes", remaining).
				Msg("Distribution exceeded 30-day span, dropping remainder")
			metrics.MinutesDropped.WithLabelValues(deviceID).Add(remaining)
			break
		}
	}

	return nil
}

func (d *Distributor) loadOrCreate(ctx context.Context, deviceID string, day time.Time, appName string) (*storage.UsageBucket, error) {
	bucket, err := d.store.GetBucket(ctx, deviceID, day, appName)
	if err == nil {
		return bucket, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		fresh := storage.NewUsageBucket(deviceID, day, appName)
		return &fresh, nil
	}
	metrics.StorageErrors.WithLabelValues("get_bucket").Inc()
	return nil, fmt.Errorf("load bucket %s/%s: %w", deviceID, appName, err)
}
