package candle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLCV summary of one fixed interval bucket. Start is the
// bucket key: for a given series no two candles share a Start.
//
// A candle with Complete == false is the live candle of its series and
// may still change; complete candles never do.
type Candle struct {
	Symbol   string
	Start    time.Time
	Interval time.Duration
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Trades   int
	Complete bool
}

// End returns the exclusive end of the candle's interval.
func (c Candle) End() time.Time {
	return c.Start.Add(c.Interval)
}

// Key returns the bucket key in Unix milliseconds.
func (c Candle) Key() int64 {
	return c.Start.UnixMilli()
}

// Validate checks the OHLCV invariant:
// high ≥ max(open, close) ≥ min(open, close) ≥ low, volume ≥ 0.
func (c Candle) Validate() error {
	hiBody := decimal.Max(c.Open, c.Close)
	loBody := decimal.Min(c.Open, c.Close)
	switch {
	case c.Interval <= 0:
		return fmt.Errorf("candle %s: non-positive interval %v", c.Start.Format(time.RFC3339), c.Interval)
	case c.High.LessThan(hiBody):
		return fmt.Errorf("candle %s: high %s below body top %s", c.Start.Format(time.RFC3339), c.High, hiBody)
	case c.Low.GreaterThan(loBody):
		return fmt.Errorf("candle %s: low %s above body bottom %s", c.Start.Format(time.RFC3339), c.Low, loBody)
	case c.Volume.IsNegative():
		return fmt.Errorf("candle %s: negative volume %s", c.Start.Format(time.RFC3339), c.Volume)
	}
	return nil
}

// Bullish reports whether the candle closed at or above its open.
func (c Candle) Bullish() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}

// Flat returns a zero-volume candle at start with every price equal to
// price. It fills buckets in which no trade happened.
func Flat(symbol string, start time.Time, interval time.Duration, price decimal.Decimal) Candle {
	return Candle{
		Symbol:   symbol,
		Start:    start,
		Interval: interval,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
		Volume:   decimal.Zero,
		Complete: true,
	}
}

// BucketStart returns floor(t / d) * d on the Unix millisecond axis.
// It floors toward negative infinity so pre-epoch instants bucket the
// same way as later ones.
func BucketStart(t time.Time, d time.Duration) time.Time {
	ms := t.UnixMilli()
	dm := d.Milliseconds()
	if dm <= 0 {
		return time.UnixMilli(ms).UTC()
	}
	q := ms / dm
	if ms%dm < 0 {
		q--
	}
	return time.UnixMilli(q * dm).UTC()
}
