// Package timeline stitches a fetched historical candle series together
// with the candles produced from the live trade stream.
package timeline

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/yitech/livecandles/model/candle"
)

// DefaultLimit bounds the number of candles kept in a series.
const DefaultLimit = 1000

// ErrStaleUpdate is returned when an update targets a live bucket older
// than the newest one; finalized live candles are never revised.
var ErrStaleUpdate = errors.New("timeline: update older than live tail")

// LiveCandleSource yields the finalized candles followed by the live one.
// *aggregator.Aggregator satisfies it.
type LiveCandleSource interface {
	Candles() []candle.Candle
}

// Option configures a Merger.
type Option func(*Merger)

// WithLimit caps the series length; the oldest candles are dropped first.
func WithLimit(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.limit = n
		}
	}
}

// Merger owns the combined series. Historical entries that end after
// the first live start are superseded by live ones, so no two entries
// overlap.
//
// A Merger is owned by a single goroutine; the Series snapshots it hands
// out are safe to read from any goroutine.
type Merger struct {
	hist  []candle.Candle
	live  []candle.Candle
	limit int

	series Series
}

// Build creates a Merger from hist, which is sorted and deduplicated by
// start (the last duplicate wins), then applies src's candles if src is
// non-nil. Invalid historical candles are skipped.
func Build(hist []candle.Candle, src LiveCandleSource, opts ...Option) *Merger {
	m := &Merger{limit: DefaultLimit}
	for _, o := range opts {
		o(m)
	}

	h := make([]candle.Candle, 0, len(hist))
	for _, c := range hist {
		if c.Validate() != nil {
			continue
		}
		c.Complete = true
		h = append(h, c)
	}
	slices.SortStableFunc(h, func(a, b candle.Candle) int { return a.Start.Compare(b.Start) })
	m.hist = dedup(h)

	if src != nil {
		for _, c := range src.Candles() {
			// Source candles are ordered; nothing here can be stale.
			_ = m.apply(c)
		}
	}
	m.snapshot()
	return m
}

// dedup keeps the last of each run of equal starts in a sorted slice.
func dedup(cs []candle.Candle) []candle.Candle {
	out := cs[:0]
	for i, c := range cs {
		if i+1 < len(cs) && cs[i+1].Start.Equal(c.Start) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Apply merges one live update and publishes a new snapshot. An update
// for the newest live bucket replaces it, a newer one is appended, and
// the first live update supersedes any historical entries still open
// at its start.
func (m *Merger) Apply(c candle.Candle) error {
	if err := m.apply(c); err != nil {
		return err
	}
	m.snapshot()
	return nil
}

func (m *Merger) apply(c candle.Candle) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("timeline: %w", err)
	}

	if len(m.live) == 0 {
		// Historical bars may be aligned differently from live ones
		// (hourly equity bars open at :30), so cut at the first bar
		// still open at c.Start rather than the first starting there.
		i := slices.IndexFunc(m.hist, func(h candle.Candle) bool { return h.End().After(c.Start) })
		if i < 0 {
			i = len(m.hist)
		}
		m.hist = m.hist[:i:i]
		m.live = append(m.live, c)
		return nil
	}

	last := m.live[len(m.live)-1]
	switch {
	case c.Start.Equal(last.Start):
		m.live[len(m.live)-1] = c
	case c.Start.After(last.Start):
		m.live = append(m.live, c)
	default:
		return fmt.Errorf("%w: %s before %s", ErrStaleUpdate,
			c.Start.Format(time.RFC3339), last.Start.Format(time.RFC3339))
	}
	return nil
}

// snapshot publishes a fresh copy, trimmed to the limit.
func (m *Merger) snapshot() {
	if over := len(m.hist) + len(m.live) - m.limit; over > 0 {
		n := min(over, len(m.hist))
		m.hist = m.hist[n:]
		if rest := over - n; rest > 0 {
			m.live = m.live[rest:]
		}
	}
	all := make([]candle.Candle, 0, len(m.hist)+len(m.live))
	all = append(all, m.hist...)
	all = append(all, m.live...)
	m.series = Series{candles: all, liveFrom: len(m.hist)}
}

// Series returns the current snapshot.
func (m *Merger) Series() Series { return m.series }

// search returns the index of the first candle starting at or after t and
// whether that candle starts exactly at t.
func search(cs []candle.Candle, t time.Time) (int, bool) {
	i, ok := slices.BinarySearchFunc(cs, t, func(c candle.Candle, t time.Time) int {
		return c.Start.Compare(t)
	})
	return i, ok
}
