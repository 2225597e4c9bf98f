// Package eyetime accounts total screen-on time across all devices. Unlike
// per-app usage it tracks a single global active state: minutes count once
// no matter how many devices are on at the same moment.
package eyetime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/metrics"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
)

// Recorder folds per-device activity reports into a single global on/off
// timeline and persists it as hourly minutes on local-day buckets.
type Recorder struct {
	mu     sync.Mutex
	tz     *timezone.Converter
	store  storage.EyeTimeStore
	logger zerolog.Logger

	deviceActive *lru.Cache[string, bool]
	globalActive bool
	// segmentStart is the instant the current global-active stretch began,
	// or was last flushed. Zero when globally inactive.
	segmentStart time.Time
}

// NewRecorder builds a Recorder. maxDevices bounds the per-device state map.
func NewRecorder(tz *timezone.Converter, store storage.EyeTimeStore, maxDevices int, logger zerolog.Logger) (*Recorder, error) {
	if maxDevices <= 0 {
		maxDevices = 1024
	}
	cache, err := lru.New[string, bool](maxDevices)
	if err != nil {
		return nil, fmt.Errorf("create device state cache: %w", err)
	}
	return &Recorder{
		tz:           tz,
		store:        store,
		logger:       logger,
		deviceActive: cache,
	}, nil
}

// RecordActivity updates one device's active flag and advances the global
// timeline. While globally active every call flushes the elapsed stretch, so
// long sessions accumulate incrementally rather than on shutdown only.
func (r *Recorder) RecordActivity(ctx context.Context, deviceID string, active bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasActive := r.globalActive
	r.deviceActive.Add(deviceID, active)

	r.globalActive = false
	for _, id := range r.deviceActive.Keys() {
		if on, ok := r.deviceActive.Peek(id); ok && on {
			r.globalActive = true
			break
		}
	}

	switch {
	case wasActive && !r.globalActive:
		if !r.segmentStart.IsZero() {
			if err := r.save(ctx, r.segmentStart, at); err != nil {
				return err
			}
			r.segmentStart = time.Time{}
		}
	case !wasActive && r.globalActive:
		r.segmentStart = at
	case wasActive && r.globalActive:
		if !r.segmentStart.IsZero() {
			if err := r.save(ctx, r.segmentStart, at); err != nil {
				return err
			}
			r.segmentStart = at
		}
	}
	return nil
}

// Active reports whether any device is currently active.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalActive
}

// ActiveDevices lists the devices currently reporting activity.
func (r *Recorder) ActiveDevices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, id := range r.deviceActive.Keys() {
		if on, ok := r.deviceActive.Peek(id); ok && on {
			out = append(out, id)
		}
	}
	return out
}

// save splits [start, end) on local hour boundaries and accumulates each
// piece into its local day's bucket. Eye time has no per-hour cap: the split
// itself guarantees no hour receives more than 60 minutes from one stretch.
func (r *Recorder) save(ctx context.Context, start, end time.Time) error {
	if !end.After(start) {
		return nil
	}

	type slot struct {
		hour    int
		minutes float64
	}
	perDay := make(map[time.Time][]slot)
	var order []time.Time

	cursor := start
	for cursor.Before(end) {
		hour, _, _ := r.tz.LocalClock(cursor)
		segmentEnd := r.tz.NextHourStart(cursor)
		if end.Before(segmentEnd) {
			segmentEnd = end
		}
		day := r.tz.LocalDayStart(cursor)
		if _, ok := perDay[day]; !ok {
			order = append(order, day)
		}
		perDay[day] = append(perDay[day], slot{hour: hour, minutes: segmentEnd.Sub(cursor).Minutes()})
		cursor = segmentEnd
	}

	for _, day := range order {
		bucket, err := r.store.GetDay(ctx, day)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				metrics.StorageErrors.WithLabelValues("eyetime_get").Inc()
				return fmt.Errorf("load eye time day %s: %w", r.tz.FormatDate(day), err)
			}
			fresh := storage.NewEyeTimeBucket(day)
			bucket = &fresh
		}
		for _, s := range perDay[day] {
			bucket.Hourly[s.hour] += s.minutes
		}
		if err := r.store.PutDay(ctx, *bucket); err != nil {
			metrics.StorageErrors.WithLabelValues("eyetime_put").Inc()
			return fmt.Errorf("save eye time day %s: %w", r.tz.FormatDate(day), err)
		}
	}
	return nil
}
