// Package tracker maintains per-device activity state and turns app switch
// events into stored usage minutes.
package tracker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/metrics"
)

// StandbyApp marks the history entry recorded when a device reports that
// its foreground app stopped running.
const StandbyApp = "standby"

// DefaultHistoryLimit bounds the per-device switch history.
const DefaultHistoryLimit = 20

// MinuteSink receives closed usage intervals, already expressed in minutes.
type MinuteSink interface {
	Distribute(ctx context.Context, deviceID, appName string, start time.Time, durationMinutes float64) error
}

// ActivitySink observes raw device activity transitions, independent of
// which app produced them.
type ActivitySink interface {
	RecordActivity(ctx context.Context, deviceID string, active bool, at time.Time) error
}

// Switch is one entry of a device's app switch history, most recent first.
type Switch struct {
	AppName   string    `json:"appName"`
	Timestamp time.Time `json:"timestamp"`
	Running   bool      `json:"running"`
}

// BatteryInfo is the last reported battery state of a device.
type BatteryInfo struct {
	Level      float64   `json:"level"`
	IsCharging bool      `json:"isCharging"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeviceStatus summarizes one tracked device for listing endpoints.
type DeviceStatus struct {
	DeviceID     string    `json:"device"`
	CurrentApp   string    `json:"currentApp"`
	Running      bool      `json:"running"`
	RunningSince time.Time `json:"runningSince"`
	Battery      BatteryInfo
}

type deviceState struct {
	switches []Switch
	battery  BatteryInfo
	hasBatt  bool
}

// Config tunes tracker capacity limits.
type Config struct {
	HistoryLimit int
	MaxDevices   int
}

// Tracker records app switch and battery events per device. Device state
// lives in a bounded LRU so an unbounded stream of device IDs cannot grow
// memory without limit.
type Tracker struct {
	mu       sync.Mutex
	devices  *lru.Cache[string, *deviceState]
	sink     MinuteSink
	activity ActivitySink
	logger   zerolog.Logger

	historyLimit int

	// now is swapped in tests.
	now func() time.Time
}

// New builds a Tracker. activity may be nil when no global activity
// accounting is wanted.
func New(cfg Config, sink MinuteSink, activity ActivitySink, logger zerolog.Logger) (*Tracker, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = 1024
	}
	cache, err := lru.NewWithEvict[string, *deviceState](cfg.MaxDevices, func(deviceID string, _ *deviceState) {
		logger.Debug().Str("device", deviceID).Msg("evicted idle device state")
	})
	if err != nil {
		return nil, fmt.Errorf("create device cache: %w", err)
	}
	return &Tracker{
		devices:      cache,
		sink:         sink,
		activity:     activity,
		logger:       logger,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}, nil
}

// RecordUsage handles one app switch event. A running=true event closes the
// previous interval, credits its minutes to the previous app, and opens a new
// interval for appName. A running=false event closes the current interval and
// marks the device as standby.
func (t *Tracker) RecordUsage(ctx context.Context, deviceID, appName string, running bool) error {
	if deviceID == "" {
		return fmt.Errorf("record usage: %w", ErrEmptyDeviceID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	metrics.EventsTotal.WithLabelValues("usage").Inc()

	if t.activity != nil {
		if err := t.activity.RecordActivity(ctx, deviceID, running, now); err != nil {
			return fmt.Errorf("record activity: %w", err)
		}
	}

	state := t.state(deviceID)

	if !running {
		if len(state.switches) > 0 {
			last := &state.switches[0]
			if last.Running {
				minutes := preciseMinutes(last.Timestamp, now)
				if err := t.close(ctx, deviceID, last.AppName, last.Timestamp, minutes); err != nil {
					return err
				}
				last.Running = false
			}
			state.push(Switch{AppName: StandbyApp, Timestamp: now, Running: false}, t.historyLimit)
		}
		return nil
	}

	if len(state.switches) > 0 {
		last := state.switches[0]
		if last.Running {
			minutes := preciseMinutes(last.Timestamp, now)
			if err := t.close(ctx, deviceID, last.AppName, last.Timestamp, minutes); err != nil {
				return err
			}
		}
	}
	state.push(Switch{AppName: appName, Timestamp: now, Running: true}, t.historyLimit)
	return nil
}

// RecordBattery stores the latest battery report for a device.
func (t *Tracker) RecordBattery(deviceID string, level float64, isCharging bool) error {
	if deviceID == "" {
		return fmt.Errorf("record battery: %w", ErrEmptyDeviceID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	metrics.EventsTotal.WithLabelValues("battery").Inc()
	state := t.state(deviceID)
	state.battery = BatteryInfo{Level: level, IsCharging: isCharging, Timestamp: t.now()}
	state.hasBatt = true
	return nil
}

// Battery returns the last battery report for a device, or a zero report
// when none has been seen.
func (t *Tracker) Battery(deviceID string) BatteryInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.devices.Peek(deviceID); ok && state.hasBatt {
		return state.battery
	}
	return BatteryInfo{}
}

// Devices lists every tracked device with its current app and battery state,
// sorted by device ID.
func (t *Tracker) Devices() []DeviceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.devices.Keys()
	out := make([]DeviceStatus, 0, len(keys))
	for _, deviceID := range keys {
		state, ok := t.devices.Peek(deviceID)
		if !ok {
			continue
		}
		status := DeviceStatus{
			DeviceID:     deviceID,
			CurrentApp:   "Unknown",
			Running:      true,
			RunningSince: t.now(),
			Battery:      state.battery,
		}
		if len(state.switches) > 0 {
			last := state.switches[0]
			status.CurrentApp = last.AppName
			status.RunningSince = last.Timestamp
			status.Running = last.Running
		}
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// History returns a copy of a device's switch history, most recent first.
func (t *Tracker) History(deviceID string) []Switch {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.devices.Peek(deviceID)
	if !ok {
		return nil
	}
	return append([]Switch(nil), state.switches...)
}

// SetNow replaces the tracker's clock. Tests only.
func (t *Tracker) SetNow(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) state(deviceID string) *deviceState {
	if state, ok := t.devices.Get(deviceID); ok {
		return state
	}
	state := &deviceState{}
	t.devices.Add(deviceID, state)
	metrics.TrackedDevices.Set(float64(t.devices.Len()))
	return state
}

func (t *Tracker) close(ctx context.Context, deviceID, appName string, start time.Time, minutes float64) error {
	if minutes <= 0 {
		return nil
	}
	if err := t.sink.Distribute(ctx, deviceID, appName, start, minutes); err != nil {
		return fmt.Errorf("distribute %s/%s: %w", deviceID, appName, err)
	}
	return nil
}

func (s *deviceState) push(sw Switch, limit int) {
	s.switches = append([]Switch{sw}, s.switches...)
	if len(s.switches) > limit {
		s.switches = s.switches[:limit]
	}
}

func preciseMinutes(start, end time.Time) float64 {
	minutes := end.Sub(start).Minutes()
	return math.Round(minutes*100) / 100
}
