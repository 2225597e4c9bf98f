package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	EyeTime() EyeTimeStore
}

// UsageStore manages per-device per-app usage buckets. Buckets are keyed by
// (device, local day start, app); writes are whole-record upserts, so a
// single writer per device is assumed (the tracker serializes events).
type UsageStore interface {
	GetBucket(ctx context.Context, deviceID string, day time.Time, appName string) (*UsageBucket, error)
	PutBucket(ctx context.Context, bucket UsageBucket) error
	ListBuckets(ctx context.Context, filter BucketFilter) ([]UsageBucket, error)
	// ShiftDays moves every bucket's day key by the given number of days
	// and returns the number of records rewritten. Migration tooling only.
	// Keys are shifted with calendar-day arithmetic on the stored UTC
	// instant, which stays aligned with local day starts only under a
	// fixed-offset timezone; named zones with DST need a manual rebucket.
	ShiftDays(ctx context.Context, days int) (int, error)
}

// EyeTimeStore manages the global activity buckets, keyed by local day only.
type EyeTimeStore interface {
	GetDay(ctx context.Context, day time.Time) (*EyeTimeBucket, error)
	PutDay(ctx context.Context, bucket EyeTimeBucket) error
	ListRange(ctx context.Context, from, to time.Time) ([]EyeTimeBucket, error)
	ShiftDays(ctx context.Context, days int) (int, error)
}

// BucketFilter defines criteria for querying usage buckets.
type BucketFilter struct {
	DeviceID string      // empty matches all devices
	Days     []time.Time // local day start keys; empty matches nothing
	AppName  string      // empty matches all apps
}

// Matches reports whether a bucket satisfies the filter.
func (f BucketFilter) Matches(b *UsageBucket) bool {
	if f.DeviceID != "" && b.DeviceID != f.DeviceID {
		return false
	}
	if f.AppName != "" && b.AppName != f.AppName {
		return false
	}
	for _, day := range f.Days {
		if b.Day.Equal(day) {
			return true
		}
	}
	return false
}
