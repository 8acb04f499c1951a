package candle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketStart(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		d    time.Duration
		want time.Time
	}{
		{"epoch", time.UnixMilli(0), time.Minute, time.UnixMilli(0)},
		{"inside first bucket", time.UnixMilli(59_999), time.Minute, time.UnixMilli(0)},
		{"boundary", time.UnixMilli(60_000), time.Minute, time.UnixMilli(60_000)},
		{"five minutes", time.UnixMilli(1_000_000), 5 * time.Minute, time.UnixMilli(900_000)},
		{"before epoch", time.UnixMilli(-1), time.Minute, time.UnixMilli(-60_000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(BucketStart(tc.ts, tc.d)), "got %v", BucketStart(tc.ts, tc.d))
		})
	}
}

func TestValidate(t *testing.T) {
	ok := Candle{
		Start:    time.UnixMilli(0),
		Interval: time.Minute,
		Open:     decimal.NewFromInt(10),
		High:     decimal.NewFromInt(12),
		Low:      decimal.NewFromInt(9),
		Close:    decimal.NewFromInt(11),
		Volume:   decimal.NewFromInt(3),
	}
	require.NoError(t, ok.Validate())

	badHigh := ok
	badHigh.High = decimal.NewFromInt(10)
	assert.Error(t, badHigh.Validate())

	badLow := ok
	badLow.Low = decimal.NewFromInt(11)
	assert.Error(t, badLow.Validate())

	badVol := ok
	badVol.Volume = decimal.NewFromInt(-1)
	assert.Error(t, badVol.Validate())
}

func TestFlat(t *testing.T) {
	c := Flat("AAPL", time.UnixMilli(60_000), time.Minute, decimal.NewFromFloat(1.5))
	require.NoError(t, c.Validate())
	assert.True(t, c.Volume.IsZero())
	assert.True(t, c.Complete)
	assert.Equal(t, int64(120_000), c.End().UnixMilli())
}

func TestIntervalCycle(t *testing.T) {
	assert.Equal(t, FiveMinutes, OneMinute.Next())
	assert.Equal(t, OneMinute, OneHour.Next())
	assert.Equal(t, OneHour, OneMinute.Prev())
	assert.Equal(t, 15*time.Minute, FifteenMinutes.Duration())

	iv, err := ParseInterval("30m")
	require.NoError(t, err)
	assert.Equal(t, ThirtyMinutes, iv)
	_, err = ParseInterval("2m")
	assert.Error(t, err)
}

func TestTimeframeCycle(t *testing.T) {
	assert.Equal(t, OneYear, OneDay.Prev())
	assert.Equal(t, OneDay, OneYear.Next())
	assert.Equal(t, "3M", ThreeMonths.String())

	tf, err := ParseTimeframe("1W")
	require.NoError(t, err)
	assert.Equal(t, OneWeek, tf)
}
