package timeline

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/model/candle"
)

// Series is an immutable snapshot of a chart series: a historical prefix
// followed by a live-derived suffix, ordered by strictly increasing start
// time. Slices returned by its methods are shared and must not be
// modified.
type Series struct {
	candles  []candle.Candle
	liveFrom int
}

// Len returns the number of candles.
func (s Series) Len() int { return len(s.candles) }

// Candles returns all candles, oldest first.
func (s Series) Candles() []candle.Candle { return s.candles }

// Historical returns the historical prefix.
func (s Series) Historical() []candle.Candle { return s.candles[:s.liveFrom] }

// Live returns the live-derived suffix.
func (s Series) Live() []candle.Candle { return s.candles[s.liveFrom:] }

// Last returns the newest candle.
func (s Series) Last() (candle.Candle, bool) {
	if len(s.candles) == 0 {
		return candle.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Tail returns at most the n newest candles.
func (s Series) Tail(n int) []candle.Candle {
	if n <= 0 {
		return nil
	}
	if n >= len(s.candles) {
		return s.candles
	}
	return s.candles[len(s.candles)-n:]
}

// Find returns the candle starting at start.
func (s Series) Find(start time.Time) (candle.Candle, bool) {
	i, ok := search(s.candles, start)
	if !ok {
		return candle.Candle{}, false
	}
	return s.candles[i], true
}

// Change returns the absolute and percent change of the newest close
// against the first candle's close.
func (s Series) Change() (abs, pct decimal.Decimal, ok bool) {
	if len(s.candles) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	first := s.candles[0].Close
	last := s.candles[len(s.candles)-1].Close
	abs = last.Sub(first)
	if first.IsZero() {
		return abs, decimal.Zero, true
	}
	return abs, abs.Div(first).Mul(decimal.NewFromInt(100)), true
}

// PriceRange returns the lowest low and highest high of cs.
func PriceRange(cs []candle.Candle) (lo, hi decimal.Decimal) {
	for i, c := range cs {
		if i == 0 || c.Low.LessThan(lo) {
			lo = c.Low
		}
		if i == 0 || c.High.GreaterThan(hi) {
			hi = c.High
		}
	}
	return lo, hi
}
