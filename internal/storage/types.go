package storage

import (
	"os"
	"time"
)

// HoursPerDay is the length of the hourly slot arrays.
const HoursPerDay = 24

// UsageBucket holds one local calendar day of usage for one device and app.
// Day is the UTC instant of local midnight of that day, never a UTC calendar
// day. Hourly[h] is the minute count for local hour h, fractional with
// 2-decimal precision; the distributor keeps each slot at or below 60.
type UsageBucket struct {
	DeviceID string               `json:"device_id"`
	Day      time.Time            `json:"day"`
	AppName  string               `json:"app_name"`
	Hourly   [HoursPerDay]float64 `json:"hourly_usage"`
}

// NewUsageBucket returns an empty bucket for a key.
func NewUsageBucket(deviceID string, day time.Time, appName string) UsageBucket {
	return UsageBucket{DeviceID: deviceID, Day: day.UTC(), AppName: appName}
}

// Total returns the bucket's minute sum across all hours.
func (b *UsageBucket) Total() float64 {
	var total float64
	for _, m := range b.Hourly {
		total += m
	}
	return total
}

// EyeTimeBucket holds one local calendar day of global activity minutes,
// across all devices. Keyed by Day alone.
type EyeTimeBucket struct {
	Day    time.Time            `json:"day"`
	Hourly [HoursPerDay]float64 `json:"hourly_usage"`
}

// NewEyeTimeBucket returns an empty bucket for a day.
func NewEyeTimeBucket(day time.Time) EyeTimeBucket {
	return EyeTimeBucket{Day: day.UTC()}
}

// Total returns the bucket's minute sum across all hours.
func (b *EyeTimeBucket) Total() float64 {
	var total float64
	for _, m := range b.Hourly {
		total += m
	}
	return total
}

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
