package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/yitech/livecandles/aggregator"
	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/model/trade"
)

var t0 = time.Unix(1_700_000_040, 0).UTC()

func at(sec int, price int64, complete bool) candle.Candle {
	p := decimal.NewFromInt(price)
	return candle.Candle{
		Symbol:   "AAPL",
		Start:    t0.Add(time.Duration(sec) * time.Second),
		Interval: time.Minute,
		Open:     p,
		High:     p,
		Low:      p,
		Close:    p,
		Volume:   decimal.NewFromInt(1),
		Complete: complete,
	}
}

func history(n int) []candle.Candle {
	var out []candle.Candle
	for i := 0; i < n; i++ {
		out = append(out, at(i*60, 100, true))
	}
	return out
}

func starts(s Series) []time.Time {
	var out []time.Time
	for _, c := range s.Candles() {
		out = append(out, c.Start)
	}
	return out
}

func assertStrictlyIncreasing(t require.TestingT, s Series) {
	cs := s.Candles()
	for i := 1; i < len(cs); i++ {
		require.True(t, cs[i].Start.After(cs[i-1].Start), "index %d not after %d", i, i-1)
		require.False(t, cs[i-1].End().After(cs[i].Start), "index %d overlaps %d", i-1, i)
	}
}

func TestLiveSupersedesHistoricalTail(t *testing.T) {
	// history covers [0,600) in ten buckets; the live feed revises
	// [540,600) and opens [600,660).
	m := Build(history(10), nil)
	require.Equal(t, 10, m.Series().Len())

	require.NoError(t, m.Apply(at(540, 120, false)))
	require.NoError(t, m.Apply(at(540, 125, true)))
	require.NoError(t, m.Apply(at(600, 130, false)))

	s := m.Series()
	require.Equal(t, 11, s.Len())
	assertStrictlyIncreasing(t, s)

	c, ok := s.Find(t0.Add(540 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "125", c.Close.String())

	assert.Len(t, s.Historical(), 9)
	assert.Len(t, s.Live(), 2)
	last, _ := s.Last()
	assert.Equal(t, t0.Add(600*time.Second), last.Start)
	assert.False(t, last.Complete)
}

func TestLiveOverlapsDeepInHistory(t *testing.T) {
	m := Build(history(10), nil)
	require.NoError(t, m.Apply(at(300, 90, false)))

	s := m.Series()
	assert.Len(t, s.Historical(), 5)
	assert.Equal(t, 6, s.Len())
}

func TestLiveSupersedesMisalignedHistory(t *testing.T) {
	// hourly equity bars open at :30; live hourly buckets open on the hour.
	hour := func(start time.Time, price int64) candle.Candle {
		c := at(0, price, true)
		c.Start = start
		c.Interval = time.Hour
		return c
	}
	base := time.Date(2024, 3, 4, 13, 30, 0, 0, time.UTC)
	m := Build([]candle.Candle{hour(base, 100), hour(base.Add(time.Hour), 101)}, nil)

	live := hour(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 102)
	live.Complete = false
	require.NoError(t, m.Apply(live))

	s := m.Series()
	assertStrictlyIncreasing(t, s)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, []time.Time{base, live.Start}, starts(s))
	assert.Len(t, s.Historical(), 1)
}

func TestStaleUpdateRejected(t *testing.T) {
	m := Build(history(3), nil)
	require.NoError(t, m.Apply(at(180, 1, true)))
	require.NoError(t, m.Apply(at(240, 2, false)))
	before := m.Series()

	err := m.Apply(at(180, 5, true))
	assert.True(t, errors.Is(err, ErrStaleUpdate))
	assert.Equal(t, before, m.Series())
}

func TestInvalidUpdateRejected(t *testing.T) {
	m := Build(nil, nil)
	bad := at(0, 10, false)
	bad.High = decimal.NewFromInt(5)
	assert.Error(t, m.Apply(bad))
	assert.Zero(t, m.Series().Len())
}

func TestBuildSortsAndDedups(t *testing.T) {
	hist := []candle.Candle{at(120, 3, true), at(0, 1, true), at(60, 2, true), at(60, 22, true)}
	s := Build(hist, nil).Series()

	assert.Equal(t, []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute)}, starts(s))
	c, _ := s.Find(t0.Add(time.Minute))
	assert.Equal(t, "22", c.Close.String())
}

func TestBuildFromAggregator(t *testing.T) {
	agg := aggregator.New(aggregator.Config{Interval: time.Minute})
	agg.Reset("AAPL")
	for _, sec := range []int{545, 550, 610} {
		_, err := agg.Ingest(trade.Trade{
			Symbol: "AAPL",
			Price:  decimal.NewFromInt(200),
			Size:   decimal.NewFromInt(1),
			Time:   t0.Add(time.Duration(sec) * time.Second),
		})
		require.NoError(t, err)
	}

	s := Build(history(10), agg).Series()
	assert.Equal(t, 11, s.Len())
	assertStrictlyIncreasing(t, s)
	c, _ := s.Find(t0.Add(540 * time.Second))
	assert.Equal(t, "200", c.Close.String())
	assert.True(t, c.Complete)
}

func TestSnapshotsAreImmutable(t *testing.T) {
	m := Build(history(2), nil)
	require.NoError(t, m.Apply(at(120, 5, false)))
	old := m.Series()

	require.NoError(t, m.Apply(at(120, 7, false)))
	require.NoError(t, m.Apply(at(180, 8, false)))

	last, _ := old.Last()
	assert.Equal(t, "5", last.Close.String())
	assert.Equal(t, 3, old.Len())
	assert.Equal(t, 4, m.Series().Len())
}

func TestLimit(t *testing.T) {
	m := Build(history(10), nil, WithLimit(4))
	assert.Equal(t, 4, m.Series().Len())

	for i := 10; i < 15; i++ {
		require.NoError(t, m.Apply(at(i*60, 1, true)))
	}
	s := m.Series()
	assert.Equal(t, 4, s.Len())
	assert.Empty(t, s.Historical())
	first := s.Candles()[0]
	assert.Equal(t, t0.Add(11*time.Minute), first.Start)
}

func TestChangeAndRange(t *testing.T) {
	m := Build([]candle.Candle{at(0, 100, true), at(60, 80, true), at(120, 110, true)}, nil)
	abs, pct, ok := m.Series().Change()
	require.True(t, ok)
	assert.Equal(t, "10", abs.String())
	assert.Equal(t, "10", pct.String())

	lo, hi := PriceRange(m.Series().Candles())
	assert.Equal(t, "80", lo.String())
	assert.Equal(t, "110", hi.String())

	assert.Len(t, m.Series().Tail(2), 2)
	assert.Len(t, m.Series().Tail(10), 3)
}

func TestPropertyNoDuplicateKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		histLen := rapid.IntRange(0, 30).Draw(t, "hist")
		m := Build(history(histLen), nil, WithLimit(rapid.IntRange(1, 50).Draw(t, "limit")))

		bucket := rapid.IntRange(0, histLen+5).Draw(t, "first")
		updates := rapid.IntRange(1, 40).Draw(t, "updates")
		for i := 0; i < updates; i++ {
			bucket += rapid.IntRange(0, 2).Draw(t, "step")
			price := rapid.Int64Range(1, 1000).Draw(t, "price")
			if err := m.Apply(at(bucket*60, price, false)); err != nil {
				t.Fatalf("apply: %v", err)
			}

			s := m.Series()
			assertStrictlyIncreasing(t, s)
			last, _ := s.Last()
			if last.Close.IntPart() != price {
				t.Fatalf("last close %s, want %d", last.Close, price)
			}
		}
	})
}

func TestPropertyNoOverlapMisalignedHistory(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		histLen := rapid.IntRange(0, 30).Draw(t, "hist")
		offset := rapid.IntRange(1, 59).Draw(t, "offset")
		hist := history(histLen)
		for i := range hist {
			hist[i].Start = hist[i].Start.Add(time.Duration(offset) * time.Second)
		}
		m := Build(hist, nil)

		bucket := rapid.IntRange(0, histLen+2).Draw(t, "first")
		require.NoError(t, m.Apply(at(bucket*60, 7, false)))
		s := m.Series()
		assertStrictlyIncreasing(t, s)
		// bar bucket-1 runs past the live start by offset seconds.
		assert.Equal(t, min(max(bucket-1, 0), histLen), len(s.Historical()))
	})
}
