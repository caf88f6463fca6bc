package timebucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketRounding(t *testing.T) {
	base := Of(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	bucket := 2 * time.Hour

	tests := []struct {
		name      string
		in        Instant
		wantStart Instant
		wantNext  Instant
	}{
		{"on boundary", base, base, base.Plus(bucket)},
		{"inside bucket", base.Plus(37 * time.Minute), base, base.Plus(bucket)},
		{"last tick", base.Plus(bucket).Minus(Tick), base, base.Plus(bucket)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStart, tt.in.RoundToBucketStart(bucket))
			assert.Equal(t, tt.wantNext, tt.in.RoundToNextBucket(bucket))
		})
	}

	assert.Equal(t, base, base.RoundToBucketStart(0))
}

func TestNegativeInstantsFloor(t *testing.T) {
	i := FromMillis(-1)
	assert.Equal(t, FromMillis(-Day.Milliseconds()), i.RoundToBucketStart(Day))
	assert.Equal(t, int64(-1), i.ToRollingUnits())
}

func TestRollingUnits(t *testing.T) {
	day := Of(time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC))
	rsn := day.ToRollingUnits()
	assert.Equal(t, int64(2660400), rsn)
	assert.Equal(t, day, FromRollingUnits(rsn))
	assert.Equal(t, rsn, day.Plus(9*time.Minute).ToRollingUnits())
	assert.Equal(t, rsn+1, day.Plus(10*time.Minute).ToRollingUnits())
	assert.Equal(t, day.Plus(Day), FromRollingUnits(rsn+144))
}

func TestDates(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.Date())
	assert.True(t, d.SameDateAs(d.Plus(Day-Tick)))
	assert.False(t, d.SameDateAs(d.Plus(Day)))
	assert.Equal(t, d, d.Plus(13*time.Hour).AtStartOfDay())

	_, err = ParseDate("29.02.2024")
	assert.Error(t, err)
}

func TestOrdering(t *testing.T) {
	a := FromMillis(1000)
	b := FromMillis(2000)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.BeforeOrEqual(a))
	assert.Equal(t, time.Second, b.Sub(a))
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(FromMillis(0))
	c.Advance(time.Hour)
	assert.Equal(t, FromMillis(time.Hour.Milliseconds()), c.Now())
	c.Set(FromMillis(5))
	assert.Equal(t, FromMillis(5), c.Now())
}
