package session

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/yitech/livecandles/model/candle"
)

var (
	// ErrInvalidTransition is returned when an input has no meaning in
	// the current state.
	ErrInvalidTransition = errors.New("session: invalid transition")
	// ErrInvalidSymbol is returned for a symbol that fails validation.
	ErrInvalidSymbol = errors.New("session: invalid symbol")
)

// State is one of Landing, HistoricalChart, LiveTicker, LiveCandles or
// SymbolSearch.
type State interface {
	Name() string
	state()
}

// Landing is the start screen with the popular symbols list.
type Landing struct{}

// HistoricalChart shows the fetched series for Symbol over Timeframe.
type HistoricalChart struct {
	Symbol    string
	Timeframe candle.Timeframe
}

// LiveTicker shows the raw trade feed. Aggregating records whether the
// candle aggregator kept running, which is the case when the ticker was
// entered from LiveCandles.
type LiveTicker struct {
	Symbol      string
	Timeframe   candle.Timeframe
	Interval    candle.Interval
	Aggregating bool
}

// LiveCandles shows the historical series extended by live candles.
type LiveCandles struct {
	Symbol    string
	Timeframe candle.Timeframe
	Interval  candle.Interval
}

// SymbolSearch is modal over Prev.
type SymbolSearch struct {
	Prev State
}

func (Landing) Name() string         { return "landing" }
func (HistoricalChart) Name() string { return "historical" }
func (LiveTicker) Name() string      { return "live-ticker" }
func (LiveCandles) Name() string     { return "live-candles" }
func (SymbolSearch) Name() string    { return "search" }

func (Landing) state()         {}
func (HistoricalChart) state() {}
func (LiveTicker) state()      {}
func (LiveCandles) state()     {}
func (SymbolSearch) state()    {}

// Mode selects which live view to enter.
type Mode int

const (
	ModeTicker Mode = iota
	ModeCandles
)

// Input is a user-driven event.
type Input interface {
	input()
}

type (
	// SelectSymbol picks a symbol from the landing screen.
	SelectSymbol struct{ Symbol string }
	// ChangeTimeframe refetches the historical chart.
	ChangeTimeframe struct{ Timeframe candle.Timeframe }
	// Refresh retries the historical fetch.
	Refresh struct{}
	// EnterLive starts streaming the chart's symbol.
	EnterLive struct {
		Mode     Mode
		Interval candle.Interval
	}
	// ToggleLive switches between the ticker and candle views.
	ToggleLive struct{}
	// ChangeInterval changes the live candle interval.
	ChangeInterval struct{ Interval candle.Interval }
	// LeaveLive returns to the historical chart.
	LeaveLive struct{}
	// OpenSearch opens the symbol search over the current state.
	OpenSearch struct{}
	// SearchDone completes the search with a symbol.
	SearchDone struct{ Symbol string }
	// CancelSearch closes the search without a change.
	CancelSearch struct{}
	// GoLanding tears everything down and returns to the start screen.
	GoLanding struct{}
)

func (SelectSymbol) input()    {}
func (ChangeTimeframe) input() {}
func (Refresh) input()         {}
func (EnterLive) input()       {}
func (ToggleLive) input()      {}
func (ChangeInterval) input()  {}
func (LeaveLive) input()       {}
func (OpenSearch) input()      {}
func (SearchDone) input()      {}
func (CancelSearch) input()    {}
func (GoLanding) input()       {}

// Effect is a side effect requested by a transition, executed in order
// by the Controller.
type Effect interface {
	effect()
}

type (
	// FetchHistory replaces the historical series with a fresh fetch.
	FetchHistory struct {
		Symbol    string
		Timeframe candle.Timeframe
	}
	// ClearHistory discards the historical series and any pending fetch.
	ClearHistory struct{}
	// ActivateStream starts the connector.
	ActivateStream struct{ Symbol string }
	// DeactivateStream stops the connector and drops all live state.
	DeactivateStream struct{}
	// ResetAggregator starts a fresh aggregator for Symbol.
	ResetAggregator struct {
		Symbol   string
		Interval candle.Interval
	}
	// SeedMerger builds the live series from history at Interval.
	SeedMerger struct {
		Symbol   string
		Interval candle.Interval
	}
)

func (FetchHistory) effect()     {}
func (ClearHistory) effect()     {}
func (ActivateStream) effect()   {}
func (DeactivateStream) effect() {}
func (ResetAggregator) effect()  {}
func (SeedMerger) effect()       {}

var symbolRe = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-:=/^]{0,23}$`)

// ValidateSymbol normalizes s to upper case and checks its shape.
func ValidateSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRe.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// Transition is the pure state machine. It returns the next state and
// the effects that realize it, or ErrInvalidTransition.
func Transition(s State, in Input) (State, []Effect, error) {
	if _, ok := in.(GoLanding); ok {
		if isLive(s) {
			return Landing{}, []Effect{DeactivateStream{}, ClearHistory{}}, nil
		}
		return Landing{}, []Effect{ClearHistory{}}, nil
	}
	if _, ok := in.(OpenSearch); ok {
		if _, searching := s.(SymbolSearch); !searching {
			return SymbolSearch{Prev: s}, nil, nil
		}
	}

	switch s := s.(type) {
	case Landing:
		if in, ok := in.(SelectSymbol); ok {
			sym, err := ValidateSymbol(in.Symbol)
			if err != nil {
				return s, nil, err
			}
			next := HistoricalChart{Symbol: sym}
			return next, []Effect{FetchHistory{Symbol: sym, Timeframe: next.Timeframe}}, nil
		}

	case HistoricalChart:
		switch in := in.(type) {
		case ChangeTimeframe:
			if in.Timeframe == s.Timeframe {
				return s, nil, nil
			}
			s.Timeframe = in.Timeframe
			return s, []Effect{FetchHistory{Symbol: s.Symbol, Timeframe: s.Timeframe}}, nil
		case Refresh:
			return s, []Effect{FetchHistory{Symbol: s.Symbol, Timeframe: s.Timeframe}}, nil
		case EnterLive:
			if in.Mode == ModeCandles {
				return LiveCandles{Symbol: s.Symbol, Timeframe: s.Timeframe, Interval: in.Interval}, []Effect{
					ActivateStream{Symbol: s.Symbol},
					ResetAggregator{Symbol: s.Symbol, Interval: in.Interval},
					SeedMerger{Symbol: s.Symbol, Interval: in.Interval},
				}, nil
			}
			return LiveTicker{Symbol: s.Symbol, Timeframe: s.Timeframe, Interval: in.Interval},
				[]Effect{ActivateStream{Symbol: s.Symbol}}, nil
		}

	case LiveTicker:
		switch in.(type) {
		case ToggleLive:
			next := LiveCandles{Symbol: s.Symbol, Timeframe: s.Timeframe, Interval: s.Interval}
			if s.Aggregating {
				return next, nil, nil
			}
			return next, []Effect{
				ResetAggregator{Symbol: s.Symbol, Interval: s.Interval},
				SeedMerger{Symbol: s.Symbol, Interval: s.Interval},
			}, nil
		case LeaveLive:
			return HistoricalChart{Symbol: s.Symbol, Timeframe: s.Timeframe}, []Effect{DeactivateStream{}}, nil
		}

	case LiveCandles:
		switch in := in.(type) {
		case ToggleLive:
			return LiveTicker{Symbol: s.Symbol, Timeframe: s.Timeframe, Interval: s.Interval, Aggregating: true}, nil, nil
		case ChangeInterval:
			if in.Interval == s.Interval {
				return s, nil, nil
			}
			s.Interval = in.Interval
			return s, []Effect{
				ResetAggregator{Symbol: s.Symbol, Interval: s.Interval},
				SeedMerger{Symbol: s.Symbol, Interval: s.Interval},
			}, nil
		case LeaveLive:
			return HistoricalChart{Symbol: s.Symbol, Timeframe: s.Timeframe}, []Effect{DeactivateStream{}}, nil
		}

	case SymbolSearch:
		switch in := in.(type) {
		case CancelSearch:
			return s.Prev, nil, nil
		case SearchDone:
			sym, err := ValidateSymbol(in.Symbol)
			if err != nil {
				return s, nil, err
			}
			next := HistoricalChart{Symbol: sym, Timeframe: timeframeOf(s.Prev)}
			effects := []Effect{FetchHistory{Symbol: sym, Timeframe: next.Timeframe}}
			if isLive(s.Prev) {
				effects = append([]Effect{DeactivateStream{}}, effects...)
			}
			return next, effects, nil
		}
	}
	return s, nil, fmt.Errorf("%w: %T in %s", ErrInvalidTransition, in, s.Name())
}

func isLive(s State) bool {
	switch s := s.(type) {
	case LiveTicker, LiveCandles:
		return true
	case SymbolSearch:
		return isLive(s.Prev)
	}
	return false
}

func timeframeOf(s State) candle.Timeframe {
	switch s := s.(type) {
	case HistoricalChart:
		return s.Timeframe
	case LiveTicker:
		return s.Timeframe
	case LiveCandles:
		return s.Timeframe
	case SymbolSearch:
		return timeframeOf(s.Prev)
	}
	return candle.OneDay
}

// SymbolOf returns the active symbol of s, or "".
func SymbolOf(s State) string {
	switch s := s.(type) {
	case HistoricalChart:
		return s.Symbol
	case LiveTicker:
		return s.Symbol
	case LiveCandles:
		return s.Symbol
	case SymbolSearch:
		return SymbolOf(s.Prev)
	}
	return ""
}
