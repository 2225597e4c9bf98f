package timezone

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidInput is returned for empty or nonsensical arguments.
	ErrInvalidInput = errors.New("timezone: invalid input")

	// ErrInvalidDateFormat is returned for unparsable calendar date strings.
	ErrInvalidDateFormat = errors.New("timezone: invalid date format")
)

var calendarDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Spec selects one of two timezone representations: a fixed hour offset
// (possibly fractional, -12..+12) or an IANA zone name with DST rules.
// Exactly one of the two fields is set.
type Spec struct {
	Name        string
	OffsetHours float64
}

// FixedOffset returns a Spec for a fixed hour offset from UTC.
func FixedOffset(hours float64) Spec {
	return Spec{OffsetHours: hours}
}

// Named returns a Spec for an IANA zone such as "Asia/Shanghai".
func Named(name string) Spec {
	return Spec{Name: name}
}

// Converter translates between UTC instants and a local calendar. It is
// immutable; construct one per configured timezone and share it.
type Converter struct {
	loc *time.Location
}

// NewConverter resolves a Spec into a Converter. Named zones are resolved
// against the system zone database; fixed offsets must lie in -12..+12.
func NewConverter(spec Spec) (*Converter, error) {
	if spec.Name != "" {
		loc, err := time.LoadLocation(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown zone %q", ErrInvalidInput, spec.Name)
		}
		return &Converter{loc: loc}, nil
	}

	if spec.OffsetHours < -12 || spec.OffsetHours > 12 {
		return nil, fmt.Errorf("%w: offset %.2f out of range -12..+12", ErrInvalidInput, spec.OffsetHours)
	}

	seconds := int(math.Round(spec.OffsetHours * 3600))
	name := fmt.Sprintf("UTC%+.2g", spec.OffsetHours)
	return &Converter{loc: time.FixedZone(name, seconds)}, nil
}

// Location exposes the resolved location for formatting purposes.
func (c *Converter) Location() *time.Location {
	return c.loc
}

// ToLocal returns t expressed in the configured local calendar.
func (c *Converter) ToLocal(t time.Time) time.Time {
	return t.In(c.loc)
}

// ToUTC is the inverse of ToLocal.
func (c *Converter) ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// LocalDayStart returns the UTC instant of local midnight for the local
// calendar day containing t. This is the canonical bucket key; every day
// boundary computation must route through it, never through UTC truncation.
func (c *Converter) LocalDayStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc).UTC()
}

// NextHourStart returns the UTC instant where the local hour containing t
// ends.
func (c *Converter) NextHourStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	hour := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, c.loc)
	return hour.Add(time.Hour).UTC()
}

// LocalClock returns the local wall-clock hour, minute, and second for t.
func (c *Converter) LocalClock(t time.Time) (hour, minute, second int) {
	lt := t.In(c.loc)
	return lt.Hour(), lt.Minute(), lt.Second()
}

// Today returns the UTC instant of local midnight of the current local day.
func (c *Converter) Today() time.Time {
	return c.LocalDayStart(time.Now())
}

// FormatDate renders the local calendar date of a local-midnight UTC instant
// as YYYY-MM-DD.
func (c *Converter) FormatDate(dayStart time.Time) string {
	return dayStart.In(c.loc).Format("2006-01-02")
}

// ParseCalendarDate accepts a YYYY-MM-DD string (interpreted as a local
// date), an RFC 3339 instant, or a unix millisecond timestamp, and returns
// the UTC instant of local midnight of the corresponding local day.
func (c *Converter) ParseCalendarDate(input string) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidInput)
	}

	if calendarDatePattern.MatchString(input) {
		lt, err := time.ParseInLocation("2006-01-02", input, c.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, input)
		}
		return lt.UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return c.LocalDayStart(t), nil
	}

	if ms, err := strconv.ParseInt(input, 10, 64); err == nil {
		return c.LocalDayStart(time.UnixMilli(ms)), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, input)
}
