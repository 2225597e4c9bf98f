package distributor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
	"github.com/rs/zerolog"
)

// memStore is a minimal in-memory UsageStore for distribution tests.
type memStore struct {
	buckets map[string]storage.UsageBucket
	failPut bool
	puts    int
}

func newMemStore() *memStore {
	return &memStore{buckets: make(map[string]storage.UsageBucket)}
}

func (m *memStore) key(deviceID string, day time.Time, appName string) string {
	return fmt.Sprintf("%s|%d|%s", deviceID, day.UTC().Unix(), appName)
}

func (m *memStore) GetBucket(ctx context.Context, deviceID string, day time.Time, appName string) (*storage.UsageBucket, error) {
	b, ok := m.buckets[m.key(deviceID, day, appName)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

func (m *memStore) PutBucket(ctx context.Context, bucket storage.UsageBucket) error {
	if m.failPut {
		return errors.New("storage down")
	}
	m.puts++
	m.buckets[m.key(bucket.DeviceID, bucket.Day, bucket.AppName)] = bucket
	return nil
}

func (m *memStore) ListBuckets(ctx context.Context, filter storage.BucketFilter) ([]storage.UsageBucket, error) {
	var out []storage.UsageBucket
	for _, b := range m.buckets {
		b := b
		if filter.Matches(&b) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) ShiftDays(ctx context.Context, days int) (int, error) {
	return 0, errors.New("not implemented")
}

func (m *memStore) total() float64 {
	var sum float64
	for _, b := range m.buckets {
		sum += b.Total()
	}
	return math.Round(sum*100) / 100
}

func newDistributor(t *testing.T, spec timezone.Spec, store storage.UsageStore) (*Distributor, *timezone.Converter) {
	t.Helper()
	tz, err := timezone.NewConverter(spec)
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	return New(tz, store, zerolog.Nop()), tz
}

func TestDistributeSingleHour(t *testing.T) {
	store := newMemStore()
	d, tz := newDistributor(t, timezone.FixedOffset(8), store)

	// Local 09:00 in UTC+8 is 01:00 UTC.
	start := time.Date(2025, 11, 2, 1, 0, 0, 0, time.UTC)
	if err := d.Distribute(context.Background(), "d1", "browser", start, 30); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	bucket, err := store.GetBucket(context.Background(), "d1", tz.LocalDayStart(start), "browser")
	if err != nil {
		t.Fatalf("get bucket: %v", err)
	}
	if bucket.Hourly[9] != 30 {
		t.Errorf("hourly[9] = %v, want 30", bucket.Hourly[9])
	}
	if got := store.total(); got != 30 {
		t.Errorf("total written = %v, want 30", got)
	}
	if store.puts != 1 {
		t.Errorf("puts = %d, want 1", store.puts)
	}
}

func TestDistributeDayRollover(t *testing.T) {
	store := newMemStore()
	d, tz := newDistributor(t, timezone.FixedOffset(0), store)

	// Local 23:50, 20 minutes: 10 in hour 23, 10 in hour 0 of the next day.
	start := time.Date(2025, 11, 2, 23, 50, 0, 0, time.UTC)
	if err := d.Distribute(context.Background(), "d1", "browser", start, 20); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	day1 := tz.LocalDayStart(start)
	day2 := day1.Add(24 * time.Hour)

	b1, err := store.GetBucket(context.Background(), "d1", day1, "browser")
	if err != nil {
		t.Fatalf("get day1 bucket: %v", err)
	}
	b2, err := store.GetBucket(context.Background(), "d1", day2, "browser")
	if err != nil {
		t.Fatalf("get day2 bucket: %v", err)
	}

	if b1.Hourly[23] != 10 {
		t.Errorf("day1 hourly[23] = %v, want 10", b1.Hourly[23])
	}
	if b2.Hourly[0] != 10 {
		t.Errorf("day2 hourly[0] = %v, want 10", b2.Hourly[0])
	}
	if got := day2.Sub(day1); got != 24*time.Hour {
		t.Errorf("bucket days differ by %v, want 24h", got)
	}
}

func TestDistributeCapSpillsForward(t *testing.T) {
	store := newMemStore()
	d, tz := newDistributor(t, timezone.FixedOffset(0), store)

	start := time.Date(2025, 11, 2, 10, 0, 0, 0, time.UTC)
	day := tz.LocalDayStart(start)

	seed := storage.NewUsageBucket("d1", day, "browser")
	seed.Hourly[10] = 55
	if err := store.PutBucket(context.Background(), seed); err != nil {
		t.Fatalf("seed bucket: %v", err)
	}

	if err := d.Distribute(context.Background(), "d1", "browser", start, 10); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	bucket, err := store.GetBucket(context.Background(), "d1", day, "browser")
	if err != nil {
		t.Fatalf("get bucket: %v", err)
	}
	if bucket.Hourly[10] != 60 {
		t.Errorf("hourly[10] = %v, want 60 (capped)", bucket.Hourly[10])
	}
	if bucket.Hourly[11] != 5 {
		t.Errorf("hourly[11] = %v, want 5 (spilled)", bucket.Hourly[11])
	}
}

func TestDistributeFractionalMinutes(t *testing.T) {
	store := newMemStore()
	d, tz := newDistributor(t, timezone.FixedOffset(0), store)

	// 09:59:30 leaves half a minute in hour 9.
	start := time.Date(2025, 11, 2, 9, 59, 30, 0, time.UTC)
	if err := d.Distribute(context.Background(), "d1", "browser", start, 2); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	bucket, err := store.GetBucket(context.Background(), "d1", tz.LocalDayStart(start), "browser")
	if err != nil {
		t.Fatalf("get bucket: %v", err)
	}
	if bucket.Hourly[9] != 0.5 {
		t.Errorf("hourly[9] = %v, want 0.5", bucket.Hourly[9])
	}
	if bucket.Hourly[10] != 1.5 {
		t.Errorf("hourly[10] = %v, want 1.5", bucket.Hourly[10])
	}
	if got := store.total(); got != 2 {
		t.Errorf("total = %v, want 2", got)
	}
}

func TestDistributeNonPositiveIsNoOp(t *testing.T) {
	store := newMemStore()
	d, _ := newDistributor(t, timezone.FixedOffset(0), store)

	start := time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)
	if err := d.Distribute(context.Background(), "d1", "browser", start, 0); err != nil {
		t.Fatalf("distribute zero: %v", err)
	}
	if err := d.Distribute(context.Background(), "d1", "browser", start, -5); err != nil {
		t.Fatalf("distribute negative: %v", err)
	}
	if len(store.buckets) != 0 {
		t.Errorf("expected no buckets, got %d", len(store.buckets))
	}
}

func TestDistributeSafetyValve(t *testing.T) {
	store := newMemStore()
	d, _ := newDistributor(t, timezone.FixedOffset(0), store)

	// More minutes than 31 days can hold at 60 per hour; the valve must
	// stop the walk after 30 days without erroring.
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	minutes := float64(45 * 24 * 60)
	if err := d.Distribute(context.Background(), "d1", "browser", start, minutes); err != nil {
		t.Fatalf("distribute: %v", err)
	}

	written := store.total()
	if written >= minutes {
		t.Fatalf("valve did not drop anything: wrote %v of %v", written, minutes)
	}
	// Slightly over 30 days of full hours get written before the cutoff.
	if written < 30*24*60 || written > 31*24*60 {
		t.Errorf("written = %v, want about 30 days' worth", written)
	}
	for _, b := range store.buckets {
		for h, m := range b.Hourly {
			if m > 60 {
				t.Fatalf("hour %d exceeds cap: %v", h, m)
			}
		}
	}
}

func TestDistributeStorageFailureKeepsEarlierBuckets(t *testing.T) {
	store := newMemStore()
	d, _ := newDistributor(t, timezone.FixedOffset(0), store)

	start := time.Date(2025, 11, 2, 23, 50, 0, 0, time.UTC)

	// A first call commits, then storage goes down; the earlier write
	// must survive the failed second call.
	if err := d.Distribute(context.Background(), "d1", "browser", start, 10); err != nil {
		t.Fatalf("distribute first part: %v", err)
	}
	store.failPut = true
	err := d.Distribute(context.Background(), "d1", "browser", start.Add(10*time.Minute), 10)
	if err == nil {
		t.Fatal("expected storage error")
	}
	if got := store.total(); got != 10 {
		t.Errorf("committed minutes = %v, want 10 (first call only)", got)
	}
}
