package aggregator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/model/trade"
)

// MaxRequestLimit is the target buffer size after a resize.
// The buffer grows freely until it hits 2×MaxRequestLimit, then trims back.
const MaxRequestLimit = 365

// DefaultMaxGap bounds how many flat candles one trade may synthesize.
const DefaultMaxGap = 1440

// ErrSymbolMismatch is returned for a trade of a symbol other than the
// one the aggregator was reset to.
var ErrSymbolMismatch = errors.New("aggregator: trade for inactive symbol")

// LateTradeError reports a trade that belongs to an interval which has
// already been finalized. The trade is dropped.
type LateTradeError struct {
	Symbol    string
	TradeTime time.Time
	LiveStart time.Time
}

func (e *LateTradeError) Error() string {
	return fmt.Sprintf("aggregator: late %s trade at %s before live interval %s",
		e.Symbol, e.TradeTime.Format(time.RFC3339Nano), e.LiveStart.Format(time.RFC3339))
}

// Config holds the interval duration and buffer bounds.
type Config struct {
	Interval time.Duration
	Limit    int
	MaxGap   int
}

// Aggregator folds a trade stream for a single symbol into fixed-interval
// candles: one live candle for the in-progress bucket plus a bounded
// history of finalized ones.
//
// Completed candles are never revised. A trade older than the live bucket
// is dropped with a *LateTradeError, and buckets without trades are
// filled with flat zero-volume candles at the previous close.
//
// An Aggregator is owned by a single goroutine and is not safe for
// concurrent use.
type Aggregator struct {
	interval time.Duration
	maxLimit int
	maxGap   int

	symbol  string
	live    *candle.Candle
	candles []candle.Candle
}

// New creates an Aggregator. Interval defaults to one minute.
func New(cfg Config) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = MaxRequestLimit
	}
	if cfg.MaxGap <= 0 {
		cfg.MaxGap = DefaultMaxGap
	}
	return &Aggregator{
		interval: cfg.Interval,
		maxLimit: cfg.Limit,
		maxGap:   cfg.MaxGap,
	}
}

// Interval returns the bucket duration.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Symbol returns the active symbol.
func (a *Aggregator) Symbol() string { return a.symbol }

// Reset discards the live candle and all finalized candles and makes
// symbol the active one.
func (a *Aggregator) Reset(symbol string) {
	a.symbol = symbol
	a.live = nil
	a.candles = nil
}

// Ingest applies t and returns the resulting updates in order: candles
// finalized by crossing a boundary, synthesized gap candles, then the
// current live candle last. A late trade yields a *LateTradeError and no
// updates.
func (a *Aggregator) Ingest(t trade.Trade) ([]candle.Candle, error) {
	if a.symbol == "" {
		a.symbol = t.Symbol
	}
	if !strings.EqualFold(t.Symbol, a.symbol) {
		return nil, fmt.Errorf("%w: got %s, active %s", ErrSymbolMismatch, t.Symbol, a.symbol)
	}

	start := candle.BucketStart(t.Time, a.interval)

	// 1. First trade opens the live candle.
	if a.live == nil {
		a.open(start, t)
		return []candle.Candle{*a.live}, nil
	}

	switch {
	// 2. Same bucket: fold into the live candle.
	case start.Equal(a.live.Start):
		a.fold(t)
		return []candle.Candle{*a.live}, nil

	// 3. Late trade for a finalized bucket.
	case start.Before(a.live.Start):
		return nil, &LateTradeError{Symbol: a.symbol, TradeTime: t.Time, LiveStart: a.live.Start}
	}

	// 4. Boundary crossed: finalize, fill the gap, open a new bucket.
	var out []candle.Candle
	done := *a.live
	done.Complete = true
	a.appendAndResize(done)
	out = append(out, done)

	for _, c := range a.gap(done, start) {
		a.appendAndResize(c)
		out = append(out, c)
	}

	a.open(start, t)
	return append(out, *a.live), nil
}

// gap returns flat candles for the buckets strictly between prev and
// next, at most maxGap of them and always the most recent ones.
func (a *Aggregator) gap(prev candle.Candle, next time.Time) []candle.Candle {
	missing := int(next.Sub(prev.Start)/a.interval) - 1
	if missing <= 0 {
		return nil
	}
	if missing > a.maxGap {
		missing = a.maxGap
	}
	out := make([]candle.Candle, 0, missing)
	for i := missing; i >= 1; i-- {
		out = append(out, candle.Flat(a.symbol, next.Add(-time.Duration(i)*a.interval), a.interval, prev.Close))
	}
	return out
}

func (a *Aggregator) open(start time.Time, t trade.Trade) {
	a.live = &candle.Candle{
		Symbol:   a.symbol,
		Start:    start,
		Interval: a.interval,
		Open:     t.Price,
		High:     t.Price,
		Low:      t.Price,
		Close:    t.Price,
		Volume:   t.Size,
		Trades:   1,
	}
}

func (a *Aggregator) fold(t trade.Trade) {
	c := a.live
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Size)
	c.Trades++
}

// Live returns a copy of the live candle, if any.
func (a *Aggregator) Live() (candle.Candle, bool) {
	if a.live == nil {
		return candle.Candle{}, false
	}
	return *a.live, true
}

// Candles returns the finalized candles followed by the live one.
func (a *Aggregator) Candles() []candle.Candle {
	out := make([]candle.Candle, 0, len(a.candles)+1)
	out = append(out, a.candles...)
	if a.live != nil {
		out = append(out, *a.live)
	}
	return out
}

// appendAndResize appends c to the buffer and trims if it exceeds 2×limit.
func (a *Aggregator) appendAndResize(c candle.Candle) {
	a.candles = append(a.candles, c)
	if len(a.candles) > a.maxLimit*2 {
		// Keep the most recent `limit` candles; wait for the buffer to
		// grow to 2×limit again before the next resize.
		a.candles = a.candles[len(a.candles)-a.maxLimit:]
	}
}
