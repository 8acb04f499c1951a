package candle

import (
	"fmt"
	"time"
)

// Interval is the bucket width of live candles.
type Interval int

const (
	OneMinute Interval = iota
	FiveMinutes
	FifteenMinutes
	ThirtyMinutes
	OneHour
)

var intervals = [...]struct {
	name string
	d    time.Duration
}{
	OneMinute:      {"1m", time.Minute},
	FiveMinutes:    {"5m", 5 * time.Minute},
	FifteenMinutes: {"15m", 15 * time.Minute},
	ThirtyMinutes:  {"30m", 30 * time.Minute},
	OneHour:        {"1h", time.Hour},
}

func (i Interval) valid() bool { return i >= 0 && int(i) < len(intervals) }

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	if !i.valid() {
		return time.Minute
	}
	return intervals[i].d
}

func (i Interval) String() string {
	if !i.valid() {
		return fmt.Sprintf("Interval(%d)", int(i))
	}
	return intervals[i].name
}

// Next cycles to the next wider interval, wrapping to 1m.
func (i Interval) Next() Interval { return Interval((int(i) + 1) % len(intervals)) }

// Prev cycles to the next narrower interval, wrapping to 1h.
func (i Interval) Prev() Interval {
	return Interval((int(i) + len(intervals) - 1) % len(intervals))
}

// ParseInterval parses "1m", "5m", "15m", "30m" or "1h".
func ParseInterval(s string) (Interval, error) {
	for i, iv := range intervals {
		if iv.name == s {
			return Interval(i), nil
		}
	}
	return 0, fmt.Errorf("candle: unknown interval %q", s)
}

// Timeframe is the lookback window of a historical chart.
type Timeframe int

const (
	OneDay Timeframe = iota
	OneWeek
	OneMonth
	ThreeMonths
	OneYear
)

const day = 24 * time.Hour

var timeframes = [...]struct {
	name     string
	lookback time.Duration
	bar      time.Duration
}{
	OneDay:      {"1D", day, 5 * time.Minute},
	OneWeek:     {"1W", 7 * day, 30 * time.Minute},
	OneMonth:    {"1M", 30 * day, day},
	ThreeMonths: {"3M", 90 * day, day},
	OneYear:     {"1Y", 365 * day, 7 * day},
}

func (tf Timeframe) valid() bool { return tf >= 0 && int(tf) < len(timeframes) }

func (tf Timeframe) String() string {
	if !tf.valid() {
		return fmt.Sprintf("Timeframe(%d)", int(tf))
	}
	return timeframes[tf].name
}

// Lookback returns how far back the timeframe reaches from now.
func (tf Timeframe) Lookback() time.Duration {
	if !tf.valid() {
		return timeframes[OneMonth].lookback
	}
	return timeframes[tf].lookback
}

// Bar returns the candle width used to chart the timeframe.
func (tf Timeframe) Bar() time.Duration {
	if !tf.valid() {
		return timeframes[OneMonth].bar
	}
	return timeframes[tf].bar
}

// Next cycles to the next longer timeframe, wrapping to 1D.
func (tf Timeframe) Next() Timeframe { return Timeframe((int(tf) + 1) % len(timeframes)) }

// Prev cycles to the next shorter timeframe, wrapping to 1Y.
func (tf Timeframe) Prev() Timeframe {
	return Timeframe((int(tf) + len(timeframes) - 1) % len(timeframes))
}

// ParseTimeframe parses "1D", "1W", "1M", "3M" or "1Y".
func ParseTimeframe(s string) (Timeframe, error) {
	for i, tf := range timeframes {
		if tf.name == s {
			return Timeframe(i), nil
		}
	}
	return 0, fmt.Errorf("candle: unknown timeframe %q", s)
}
