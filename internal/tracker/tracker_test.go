package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordedInterval struct {
	deviceID string
	appName  string
	start    time.Time
	minutes  float64
}

type fakeSink struct {
	intervals []recordedInterval
	err       error
}

func (f *fakeSink) Distribute(ctx context.Context, deviceID, appName string, start time.Time, minutes float64) error {
	if f.err != nil {
		return f.err
	}
	f.intervals = append(f.intervals, recordedInterval{deviceID, appName, start, minutes})
	return nil
}

type fakeActivity struct {
	events []bool
}

func (f *fakeActivity) RecordActivity(ctx context.Context, deviceID string, active bool, at time.Time) error {
	f.events = append(f.events, active)
	return nil
}

func newTestTracker(t *testing.T, cfg Config, sink MinuteSink, activity ActivitySink) (*Tracker, *time.Time) {
	t.Helper()
	tr, err := New(cfg, sink, activity, zerolog.Nop())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	now := time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)
	tr.SetNow(func() time.Time { return now })
	return tr, &now
}

func TestRecordUsageClosesPreviousInterval(t *testing.T) {
	sink := &fakeSink{}
	tr, now := newTestTracker(t, Config{}, sink, nil)
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, "d1", "browser", true); err != nil {
		t.Fatalf("open interval: %v", err)
	}
	if len(sink.intervals) != 0 {
		t.Fatalf("first event should not record minutes, got %v", sink.intervals)
	}

	*now = now.Add(10*time.Minute + 30*time.Second)
	if err := tr.RecordUsage(ctx, "d1", "editor", true); err != nil {
		t.Fatalf("switch app: %v", err)
	}

	if len(sink.intervals) != 1 {
		t.Fatalf("intervals = %d, want 1", len(sink.intervals))
	}
	got := sink.intervals[0]
	if got.appName != "browser" || got.deviceID != "d1" {
		t.Errorf("credited %s/%s, want d1/browser", got.deviceID, got.appName)
	}
	if got.minutes != 10.5 {
		t.Errorf("minutes = %v, want 10.5", got.minutes)
	}
}

func TestRecordUsageStopMarksStandby(t *testing.T) {
	sink := &fakeSink{}
	tr, now := newTestTracker(t, Config{}, sink, nil)
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, "d1", "browser", true); err != nil {
		t.Fatalf("open: %v", err)
	}
	*now = now.Add(5 * time.Minute)
	if err := tr.RecordUsage(ctx, "d1", "", false); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(sink.intervals) != 1 || sink.intervals[0].minutes != 5 {
		t.Fatalf("intervals = %v, want one 5-minute interval", sink.intervals)
	}

	history := tr.History("d1")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].AppName != StandbyApp || history[0].Running {
		t.Errorf("head = %+v, want standby marker", history[0])
	}
	if history[1].AppName != "browser" || history[1].Running {
		t.Errorf("previous = %+v, want stopped browser entry", history[1])
	}

	// A second stop on an already idle device records nothing.
	*now = now.Add(5 * time.Minute)
	if err := tr.RecordUsage(ctx, "d1", "", false); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if len(sink.intervals) != 1 {
		t.Errorf("idle stop recorded minutes: %v", sink.intervals)
	}
}

func TestRecordUsageStopOnUnknownDeviceIsNoOp(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTestTracker(t, Config{}, sink, nil)

	if err := tr.RecordUsage(context.Background(), "ghost", "", false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(sink.intervals) != 0 {
		t.Errorf("recorded %v for an unknown device", sink.intervals)
	}
	if got := tr.History("ghost"); len(got) != 0 {
		t.Errorf("history = %v, want empty", got)
	}
}

func TestHistoryCapped(t *testing.T) {
	sink := &fakeSink{}
	tr, now := newTestTracker(t, Config{HistoryLimit: 5}, sink, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Minute)
		if err := tr.RecordUsage(ctx, "d1", "app", true); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
	}
	if got := len(tr.History("d1")); got != 5 {
		t.Errorf("history length = %d, want 5", got)
	}
}

func TestRecordUsageFeedsActivitySink(t *testing.T) {
	sink := &fakeSink{}
	activity := &fakeActivity{}
	tr, now := newTestTracker(t, Config{}, sink, activity)
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, "d1", "browser", true); err != nil {
		t.Fatalf("start: %v", err)
	}
	*now = now.Add(time.Minute)
	if err := tr.RecordUsage(ctx, "d1", "", false); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []bool{true, false}
	if len(activity.events) != len(want) {
		t.Fatalf("activity events = %v, want %v", activity.events, want)
	}
	for i := range want {
		if activity.events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, activity.events[i], want[i])
		}
	}
}

func TestRecordUsageEmptyDeviceID(t *testing.T) {
	tr, _ := newTestTracker(t, Config{}, &fakeSink{}, nil)
	err := tr.RecordUsage(context.Background(), "", "browser", true)
	if !errors.Is(err, ErrEmptyDeviceID) {
		t.Errorf("err = %v, want ErrEmptyDeviceID", err)
	}
}

func TestBatteryAndDevices(t *testing.T) {
	sink := &fakeSink{}
	tr, now := newTestTracker(t, Config{}, sink, nil)
	ctx := context.Background()

	if err := tr.RecordUsage(ctx, "d1", "browser", true); err != nil {
		t.Fatalf("usage: %v", err)
	}
	if err := tr.RecordBattery("d1", 87, true); err != nil {
		t.Fatalf("battery: %v", err)
	}
	if err := tr.RecordBattery("d2", 40, false); err != nil {
		t.Fatalf("battery d2: %v", err)
	}

	if got := tr.Battery("d1"); got.Level != 87 || !got.IsCharging {
		t.Errorf("battery d1 = %+v", got)
	}
	if got := tr.Battery("unknown"); got.Level != 0 || got.IsCharging {
		t.Errorf("unknown battery = %+v, want zero", got)
	}

	devices := tr.Devices()
	if len(devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(devices))
	}
	if devices[0].DeviceID != "d1" || devices[1].DeviceID != "d2" {
		t.Fatalf("device order = %s, %s", devices[0].DeviceID, devices[1].DeviceID)
	}
	d1 := devices[0]
	if d1.CurrentApp != "browser" || !d1.Running || !d1.RunningSince.Equal(now.Add(0)) {
		t.Errorf("d1 status = %+v", d1)
	}
	// d2 only reported battery, never an app.
	if devices[1].CurrentApp != "Unknown" {
		t.Errorf("d2 currentApp = %q, want Unknown", devices[1].CurrentApp)
	}
}

func TestDeviceCacheBounded(t *testing.T) {
	sink := &fakeSink{}
	tr, _ := newTestTracker(t, Config{MaxDevices: 3}, sink, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := tr.RecordUsage(ctx, id, "app", true); err != nil {
			t.Fatalf("usage %s: %v", id, err)
		}
	}
	devices := tr.Devices()
	if len(devices) != 3 {
		t.Fatalf("devices = %d, want 3 after eviction", len(devices))
	}
	for _, d := range devices {
		if d.DeviceID == "a" {
			t.Error("oldest device should have been evicted")
		}
	}
}
