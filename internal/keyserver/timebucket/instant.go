// Package timebucket provides the UTC millisecond instant used for every release-bucket,
// rolling-interval and retention computation in the key server. All store, query and
// federation code rounds through the same grid so bucket boundaries agree everywhere.
package timebucket

import (
	"time"
)

const (
	// RollingInterval is the length of one rolling unit.
	RollingInterval = 10 * time.Minute
	// Day is one UTC calendar day.
	Day = 24 * time.Hour
	// Tick is the smallest representable step.
	Tick = time.Millisecond

	dateLayout = "2006-01-02"
)

// Instant is a point in time as milliseconds since the Unix epoch, always UTC.
type Instant int64

// Of converts a time.Time.
func Of(t time.Time) Instant {
	return Instant(t.UnixMilli())
}

// FromMillis converts epoch milliseconds.
func FromMillis(ms int64) Instant {
	return Instant(ms)
}

// FromRollingUnits converts a rolling interval number to the instant it starts at.
func FromRollingUnits(n int64) Instant {
	return Instant(n * RollingInterval.Milliseconds())
}

// ParseDate parses a "YYYY-MM-DD" UTC date and returns its start.
func ParseDate(s string) (Instant, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return 0, err
	}
	return Of(t), nil
}

// Millis returns epoch milliseconds.
func (i Instant) Millis() int64 {
	return int64(i)
}

// Time returns the instant as a UTC time.Time.
func (i Instant) Time() time.Time {
	return time.UnixMilli(int64(i)).UTC()
}

func (i Instant) Plus(d time.Duration) Instant {
	return i + Instant(d.Milliseconds())
}

func (i Instant) Minus(d time.Duration) Instant {
	return i - Instant(d.Milliseconds())
}

// Sub returns the duration i - o.
func (i Instant) Sub(o Instant) time.Duration {
	return time.Duration(int64(i)-int64(o)) * time.Millisecond
}

// RoundToBucketStart floors i to the bucket grid of width d anchored at the epoch.
// A non-positive width leaves i unchanged.
func (i Instant) RoundToBucketStart(d time.Duration) Instant {
	w := d.Milliseconds()
	if w <= 0 {
		return i
	}
	return Instant(floorDiv(int64(i), w) * w)
}

// RoundToNextBucket returns the start of the bucket following the one containing i.
// An instant exactly on a boundary belongs to the bucket starting there, so the result
// is always strictly after i.
func (i Instant) RoundToNextBucket(d time.Duration) Instant {
	w := d.Milliseconds()
	if w <= 0 {
		return i
	}
	return i.RoundToBucketStart(d) + Instant(w)
}

// ToRollingUnits returns the rolling interval number containing i.
func (i Instant) ToRollingUnits() int64 {
	return floorDiv(int64(i), RollingInterval.Milliseconds())
}

// AtStartOfDay floors i to UTC midnight.
func (i Instant) AtStartOfDay() Instant {
	return i.RoundToBucketStart(Day)
}

// SameDateAs reports whether both instants fall on the same UTC date.
func (i Instant) SameDateAs(o Instant) bool {
	return i.AtStartOfDay() == o.AtStartOfDay()
}

func (i Instant) Before(o Instant) bool {
	return i < o
}

func (i Instant) After(o Instant) bool {
	return i > o
}

func (i Instant) Equal(o Instant) bool {
	return i == o
}

// BeforeOrEqual is the non-strict form of Before.
func (i Instant) BeforeOrEqual(o Instant) bool {
	return i <= o
}

// Date formats the UTC date as "YYYY-MM-DD".
func (i Instant) Date() string {
	return i.Time().Format(dateLayout)
}

func (i Instant) String() string {
	return i.Time().Format(time.RFC3339Nano)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
