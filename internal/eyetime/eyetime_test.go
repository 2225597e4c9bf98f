package eyetime

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/calendar"
	"github.com/goodtune/screentime/internal/storage"
	"github.com/goodtune/screentime/internal/timezone"
)

type memEyeStore struct {
	days map[int64]storage.EyeTimeBucket
}

func newMemEyeStore() *memEyeStore {
	return &memEyeStore{days: make(map[int64]storage.EyeTimeBucket)}
}

func (m *memEyeStore) GetDay(ctx context.Context, day time.Time) (*storage.EyeTimeBucket, error) {
	b, ok := m.days[day.Unix()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

func (m *memEyeStore) PutDay(ctx context.Context, bucket storage.EyeTimeBucket) error {
	m.days[bucket.Day.Unix()] = bucket
	return nil
}

func (m *memEyeStore) ListRange(ctx context.Context, from, to time.Time) ([]storage.EyeTimeBucket, error) {
	var out []storage.EyeTimeBucket
	for _, b := range m.days {
		if !b.Day.Before(from) && b.Day.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memEyeStore) ShiftDays(ctx context.Context, days int) (int, error) {
	return 0, nil
}

func (m *memEyeStore) total() float64 {
	var sum float64
	for _, b := range m.days {
		sum += b.Total()
	}
	return math.Round(sum*100) / 100
}

func mustConverter(t *testing.T, spec timezone.Spec) *timezone.Converter {
	t.Helper()
	tz, err := timezone.NewConverter(spec)
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	return tz
}

func newRecorder(t *testing.T, tz *timezone.Converter, store storage.EyeTimeStore) *Recorder {
	t.Helper()
	r, err := NewRecorder(tz, store, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	return r
}

func TestRecorderSingleDevice(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	r := newRecorder(t, tz, store)
	ctx := context.Background()

	start := time.Date(2025, 11, 2, 9, 10, 0, 0, time.UTC)
	if err := r.RecordActivity(ctx, "d1", true, start); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !r.Active() {
		t.Fatal("expected globally active")
	}
	if err := r.RecordActivity(ctx, "d1", false, start.Add(15*time.Minute)); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if r.Active() {
		t.Fatal("expected globally inactive")
	}

	if got := store.total(); got != 15 {
		t.Errorf("total minutes = %v, want 15", got)
	}
	bucket, err := store.GetDay(ctx, tz.LocalDayStart(start))
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	if bucket.Hourly[9] != 15 {
		t.Errorf("hourly[9] = %v, want 15", bucket.Hourly[9])
	}
}

func TestRecorderOverlappingDevicesCountOnce(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	r := newRecorder(t, tz, store)
	ctx := context.Background()

	base := time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)

	// d1 active for 9:00-9:30, d2 overlaps for 9:10-9:20. Global active
	// time is still 30 minutes.
	if err := r.RecordActivity(ctx, "d1", true, base); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordActivity(ctx, "d2", true, base.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordActivity(ctx, "d2", false, base.Add(20*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordActivity(ctx, "d1", false, base.Add(30*time.Minute)); err != nil {
		t.Fatal(err)
	}

	if got := store.total(); got != 30 {
		t.Errorf("total = %v, want 30 (overlap must not double count)", got)
	}
	if got := r.ActiveDevices(); len(got) != 0 {
		t.Errorf("active devices = %v, want none", got)
	}
}

func TestRecorderSplitsAcrossHoursAndDays(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(8))
	store := newMemEyeStore()
	r := newRecorder(t, tz, store)
	ctx := context.Background()

	// Local 23:30 to 00:30 next day in UTC+8.
	start := time.Date(2025, 11, 2, 15, 30, 0, 0, time.UTC)
	if err := r.RecordActivity(ctx, "d1", true, start); err != nil {
		t.Fatal(err)
	}
	if err := r.RecordActivity(ctx, "d1", false, start.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	day1 := tz.LocalDayStart(start)
	day2 := day1.Add(24 * time.Hour)

	b1, err := store.GetDay(ctx, day1)
	if err != nil {
		t.Fatalf("day1: %v", err)
	}
	b2, err := store.GetDay(ctx, day2)
	if err != nil {
		t.Fatalf("day2: %v", err)
	}
	if b1.Hourly[23] != 30 {
		t.Errorf("day1 hourly[23] = %v, want 30", b1.Hourly[23])
	}
	if b2.Hourly[0] != 30 {
		t.Errorf("day2 hourly[0] = %v, want 30", b2.Hourly[0])
	}
}

func TestRecorderIncrementalFlush(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	r := newRecorder(t, tz, store)
	ctx := context.Background()

	start := time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)
	if err := r.RecordActivity(ctx, "d1", true, start); err != nil {
		t.Fatal(err)
	}
	// A heartbeat while still active flushes the elapsed stretch.
	if err := r.RecordActivity(ctx, "d1", true, start.Add(10*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := store.total(); got != 10 {
		t.Errorf("total after heartbeat = %v, want 10", got)
	}
	if err := r.RecordActivity(ctx, "d1", false, start.Add(25*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := store.total(); got != 25 {
		t.Errorf("total after stop = %v, want 25", got)
	}
}

func TestQueryDaily(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	ctx := context.Background()

	day := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	bucket := storage.NewEyeTimeBucket(day)
	bucket.Hourly[9] = 20.5
	bucket.Hourly[14] = 9.5
	if err := store.PutDay(ctx, bucket); err != nil {
		t.Fatal(err)
	}

	clock := &calendar.TestClock{CurrentTime: day.Add(12 * time.Hour)}
	q := NewQuery(tz, calendar.NewCalculator(tz, clock), store)

	got, err := q.Daily(ctx, day.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if got.Date != "2025-11-02" {
		t.Errorf("date = %q", got.Date)
	}
	if got.TotalUsage != 30 {
		t.Errorf("total = %v, want 30", got.TotalUsage)
	}
	if got.HourlyStats[9] != 20.5 || got.HourlyStats[14] != 9.5 {
		t.Errorf("hourly = %v", got.HourlyStats)
	}
}

func TestQueryDailySpringForwardDay(t *testing.T) {
	// America/New_York 2025-03-09 is 23 hours long, so the next local day
	// starts less than 24 hours after this one. Its bucket must not bleed
	// into the shorter day's total.
	tz := mustConverter(t, timezone.Named("America/New_York"))
	store := newMemEyeStore()
	ctx := context.Background()

	noon := time.Date(2025, 3, 9, 17, 0, 0, 0, time.UTC)
	day1 := tz.LocalDayStart(noon)
	day2 := tz.LocalDayStart(day1.Add(30 * time.Hour))

	b1 := storage.NewEyeTimeBucket(day1)
	b1.Hourly[10] = 30
	if err := store.PutDay(ctx, b1); err != nil {
		t.Fatal(err)
	}
	b2 := storage.NewEyeTimeBucket(day2)
	b2.Hourly[11] = 45
	if err := store.PutDay(ctx, b2); err != nil {
		t.Fatal(err)
	}

	clock := &calendar.TestClock{CurrentTime: noon}
	q := NewQuery(tz, calendar.NewCalculator(tz, clock), store)

	got, err := q.Daily(ctx, noon)
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if got.Date != "2025-03-09" {
		t.Errorf("date = %q, want 2025-03-09", got.Date)
	}
	if got.TotalUsage != 30 {
		t.Errorf("total = %v, want 30", got.TotalUsage)
	}
	if got.HourlyStats[11] != 0 {
		t.Errorf("hourly[11] = %v, want 0 (next day's minutes)", got.HourlyStats[11])
	}
}

func TestQueryDailyEmptyDay(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	clock := &calendar.TestClock{CurrentTime: time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC)}
	q := NewQuery(tz, calendar.NewCalculator(tz, clock), store)

	got, err := q.Daily(context.Background(), time.Date(2025, 11, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	if got.TotalUsage != 0 || got.Date != "2025-11-02" {
		t.Errorf("empty day = %+v", got)
	}
}

func TestQueryWeekly(t *testing.T) {
	tz := mustConverter(t, timezone.FixedOffset(0))
	store := newMemEyeStore()
	ctx := context.Background()

	// Sunday Nov 2, 2025; the current week runs Mon Oct 27 - Sun Nov 2.
	now := time.Date(2025, 11, 2, 12, 0, 0, 0, time.UTC)
	clock := &calendar.TestClock{CurrentTime: now}

	monday := time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)
	for i, minutes := range []float64{30, 0, 45} {
		if minutes == 0 {
			continue
		}
		bucket := storage.NewEyeTimeBucket(monday.Add(time.Duration(i) * 24 * time.Hour))
		bucket.Hourly[10] = minutes
		if err := store.PutDay(ctx, bucket); err != nil {
			t.Fatal(err)
		}
	}

	q := NewQuery(tz, calendar.NewCalculator(tz, clock), store)
	got, err := q.Weekly(ctx, 0)
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if got.RangeStart != "2025-10-27" || got.RangeEnd != "2025-11-02" {
		t.Errorf("range = %s..%s", got.RangeStart, got.RangeEnd)
	}
	if len(got.DailyTotals) != 7 {
		t.Fatalf("daily totals = %d entries, want 7", len(got.DailyTotals))
	}
	if got.DailyTotals["2025-10-27"] != 30 {
		t.Errorf("monday = %v, want 30", got.DailyTotals["2025-10-27"])
	}
	if got.DailyTotals["2025-10-29"] != 45 {
		t.Errorf("wednesday = %v, want 45", got.DailyTotals["2025-10-29"])
	}
	if got.DailyTotals["2025-10-28"] != 0 {
		t.Errorf("empty day = %v, want 0", got.DailyTotals["2025-10-28"])
	}
}
