package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/livecandles/model/candle"
)

func TestTransition(t *testing.T) {
	hist := HistoricalChart{Symbol: "AAPL", Timeframe: candle.OneWeek}
	ticker := LiveTicker{Symbol: "AAPL", Timeframe: candle.OneWeek, Interval: candle.FiveMinutes}
	candles := LiveCandles{Symbol: "AAPL", Timeframe: candle.OneWeek, Interval: candle.FiveMinutes}

	tests := []struct {
		name    string
		from    State
		in      Input
		to      State
		effects []Effect
	}{
		{
			name:    "landing selects symbol",
			from:    Landing{},
			in:      SelectSymbol{Symbol: " aapl "},
			to:      HistoricalChart{Symbol: "AAPL", Timeframe: candle.OneDay},
			effects: []Effect{FetchHistory{Symbol: "AAPL", Timeframe: candle.OneDay}},
		},
		{
			name:    "timeframe change refetches",
			from:    hist,
			in:      ChangeTimeframe{Timeframe: candle.OneYear},
			to:      HistoricalChart{Symbol: "AAPL", Timeframe: candle.OneYear},
			effects: []Effect{FetchHistory{Symbol: "AAPL", Timeframe: candle.OneYear}},
		},
		{
			name: "same timeframe is a no-op",
			from: hist,
			in:   ChangeTimeframe{Timeframe: candle.OneWeek},
			to:   hist,
		},
		{
			name:    "refresh refetches",
			from:    hist,
			in:      Refresh{},
			to:      hist,
			effects: []Effect{FetchHistory{Symbol: "AAPL", Timeframe: candle.OneWeek}},
		},
		{
			name:    "enter ticker activates stream only",
			from:    hist,
			in:      EnterLive{Mode: ModeTicker, Interval: candle.FiveMinutes},
			to:      ticker,
			effects: []Effect{ActivateStream{Symbol: "AAPL"}},
		},
		{
			name: "enter candles resets aggregator and seeds",
			from: hist,
			in:   EnterLive{Mode: ModeCandles, Interval: candle.FiveMinutes},
			to:   candles,
			effects: []Effect{
				ActivateStream{Symbol: "AAPL"},
				ResetAggregator{Symbol: "AAPL", Interval: candle.FiveMinutes},
				SeedMerger{Symbol: "AAPL", Interval: candle.FiveMinutes},
			},
		},
		{
			name: "ticker to candles starts aggregating",
			from: ticker,
			in:   ToggleLive{},
			to:   candles,
			effects: []Effect{
				ResetAggregator{Symbol: "AAPL", Interval: candle.FiveMinutes},
				SeedMerger{Symbol: "AAPL", Interval: candle.FiveMinutes},
			},
		},
		{
			name: "candles to ticker keeps aggregating",
			from: candles,
			in:   ToggleLive{},
			to:   LiveTicker{Symbol: "AAPL", Timeframe: candle.OneWeek, Interval: candle.FiveMinutes, Aggregating: true},
		},
		{
			name: "back to candles without reset",
			from: LiveTicker{Symbol: "AAPL", Timeframe: candle.OneWeek, Interval: candle.FiveMinutes, Aggregating: true},
			in:   ToggleLive{},
			to:   candles,
		},
		{
			name: "interval change reseeds",
			from: candles,
			in:   ChangeInterval{Interval: candle.OneHour},
			to:   LiveCandles{Symbol: "AAPL", Timeframe: candle.OneWeek, Interval: candle.OneHour},
			effects: []Effect{
				ResetAggregator{Symbol: "AAPL", Interval: candle.OneHour},
				SeedMerger{Symbol: "AAPL", Interval: candle.OneHour},
			},
		},
		{
			name:    "leave live deactivates",
			from:    candles,
			in:      LeaveLive{},
			to:      hist,
			effects: []Effect{DeactivateStream{}},
		},
		{
			name:    "leave ticker deactivates",
			from:    ticker,
			in:      LeaveLive{},
			to:      hist,
			effects: []Effect{DeactivateStream{}},
		},
		{
			name: "open search is modal",
			from: candles,
			in:   OpenSearch{},
			to:   SymbolSearch{Prev: candles},
		},
		{
			name: "cancel search restores",
			from: SymbolSearch{Prev: candles},
			in:   CancelSearch{},
			to:   candles,
		},
		{
			name:    "search from live tears down first",
			from:    SymbolSearch{Prev: candles},
			in:      SearchDone{Symbol: "msft"},
			to:      HistoricalChart{Symbol: "MSFT", Timeframe: candle.OneWeek},
			effects: []Effect{DeactivateStream{}, FetchHistory{Symbol: "MSFT", Timeframe: candle.OneWeek}},
		},
		{
			name:    "search from landing",
			from:    SymbolSearch{Prev: Landing{}},
			in:      SearchDone{Symbol: "^GSPC"},
			to:      HistoricalChart{Symbol: "^GSPC", Timeframe: candle.OneDay},
			effects: []Effect{FetchHistory{Symbol: "^GSPC", Timeframe: candle.OneDay}},
		},
		{
			name:    "landing from live",
			from:    ticker,
			in:      GoLanding{},
			to:      Landing{},
			effects: []Effect{DeactivateStream{}, ClearHistory{}},
		},
		{
			name:    "landing from search over live",
			from:    SymbolSearch{Prev: ticker},
			in:      GoLanding{},
			to:      Landing{},
			effects: []Effect{DeactivateStream{}, ClearHistory{}},
		},
		{
			name:    "landing from chart",
			from:    hist,
			in:      GoLanding{},
			to:      Landing{},
			effects: []Effect{ClearHistory{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, effects, err := Transition(tt.from, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.effects, effects)
		})
	}
}

func TestTransitionInvalid(t *testing.T) {
	tests := []struct {
		from State
		in   Input
	}{
		{Landing{}, EnterLive{}},
		{Landing{}, LeaveLive{}},
		{HistoricalChart{Symbol: "AAPL"}, ToggleLive{}},
		{HistoricalChart{Symbol: "AAPL"}, SelectSymbol{Symbol: "MSFT"}},
		{LiveTicker{Symbol: "AAPL"}, ChangeTimeframe{}},
		{LiveCandles{Symbol: "AAPL"}, EnterLive{}},
		{SymbolSearch{Prev: Landing{}}, OpenSearch{}},
	}
	for _, tt := range tests {
		to, effects, err := Transition(tt.from, tt.in)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%T in %s", tt.in, tt.from.Name())
		assert.Equal(t, tt.from, to)
		assert.Nil(t, effects)
	}
}

func TestValidateSymbol(t *testing.T) {
	for _, s := range []string{"AAPL", "brk-b", "^GSPC", "BINANCE:BTCUSDT", "EURUSD=X", "btcusdt"} {
		_, err := ValidateSymbol(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []string{"", "  ", "AA PL", "A$", "-AAPL", "THISSYMBOLISMUCHTOOLONGTOBEREAL"} {
		_, err := ValidateSymbol(s)
		assert.True(t, errors.Is(err, ErrInvalidSymbol), s)
	}

	_, _, err := Transition(Landing{}, SelectSymbol{Symbol: "bad symbol"})
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestAtMostOneStream(t *testing.T) {
	// Walk every input from every reachable state and count stream
	// activations and deactivations; live states must always have
	// exactly one more activation than deactivation.
	inputs := []Input{
		SelectSymbol{Symbol: "AAPL"}, ChangeTimeframe{Timeframe: candle.OneMonth}, Refresh{},
		EnterLive{Mode: ModeTicker}, EnterLive{Mode: ModeCandles}, ToggleLive{},
		ChangeInterval{Interval: candle.OneHour}, LeaveLive{}, OpenSearch{},
		SearchDone{Symbol: "MSFT"}, CancelSearch{}, GoLanding{},
	}
	type node struct {
		s      State
		active int
	}
	queue := []node{{Landing{}, 0}}
	seen := map[State]bool{}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if isLive(n.s) {
			require.Equal(t, 1, n.active, n.s.Name())
		} else {
			require.Equal(t, 0, n.active, n.s.Name())
		}
		if seen[n.s] {
			continue
		}
		seen[n.s] = true
		for _, in := range inputs {
			next, effects, err := Transition(n.s, in)
			if err != nil {
				continue
			}
			active := n.active
			for _, e := range effects {
				switch e.(type) {
				case ActivateStream:
					require.Zero(t, active, "activate from %s on %T", n.s.Name(), in)
					active++
				case DeactivateStream:
					active--
				}
			}
			queue = append(queue, node{next, active})
		}
	}
	assert.Greater(t, len(seen), 10)
}
