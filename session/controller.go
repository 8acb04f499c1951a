// Package session owns the active symbol and mode. It drives the stream
// connector, aggregator and timeline merger from user input and exposes
// snapshot views for rendering.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/aggregator"
	"github.com/yitech/livecandles/diag"
	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/model/trade"
	"github.com/yitech/livecandles/stream"
	"github.com/yitech/livecandles/timeline"
)

const (
	DefaultTickLimit    = 100
	DefaultSeedBars     = 120
	DefaultFetchTimeout = 15 * time.Second
	DefaultPollBudget   = 10_000
	DefaultDiagView     = 100
)

// LiveStream is the controller's view of an active stream.
// *stream.Stream satisfies it.
type LiveStream interface {
	Events() <-chan stream.Event
	ChangeSymbol(symbol string)
	Deactivate()
}

// ConnectFunc activates a stream for symbol.
type ConnectFunc func(ctx context.Context, symbol string) LiveStream

// ConnectWith adapts a Connector to ConnectFunc.
func ConnectWith(c *stream.Connector) ConnectFunc {
	return func(ctx context.Context, symbol string) LiveStream {
		return c.Activate(ctx, symbol)
	}
}

// Config wires a Controller.
type Config struct {
	Connect ConnectFunc
	History adapter.History
	Diag    *diag.Log
	Logger  *zerolog.Logger

	// Popular is the landing screen's symbol list.
	Popular []string

	TickLimit    int
	SeriesLimit  int
	SeedBars     int
	FetchTimeout time.Duration
	PollBudget   int

	Now func() time.Time
}

// ConnStatus describes the live connection for display.
type ConnStatus struct {
	State   stream.State
	Since   time.Time
	Attempt int
	Delay   time.Duration
	Err     error
}

// Format renders the status, with uptime relative to now.
func (s ConnStatus) Format(now time.Time) string {
	switch s.State {
	case stream.Subscribed:
		return fmt.Sprintf("connected (uptime %s)", now.Sub(s.Since).Truncate(time.Second))
	case stream.Resubscribing:
		if s.Delay > 0 {
			return fmt.Sprintf("reconnecting (attempt %d, retry in %s)", s.Attempt, s.Delay.Round(time.Millisecond))
		}
		return fmt.Sprintf("reconnecting (attempt %d)", s.Attempt)
	case stream.Connecting:
		return "connecting"
	}
	if s.Err != nil {
		return "disconnected: " + s.Err.Error()
	}
	return "disconnected"
}

// TickStats summarizes the live trade feed.
type TickStats struct {
	Count     int
	Volume    decimal.Decimal
	LastPrice decimal.Decimal
	LastTime  time.Time
}

type fetchKind int

const (
	historyFetch fetchKind = iota
	seedFetch
)

type fetchResult struct {
	kind    fetchKind
	gen     uint64
	query   adapter.Query
	candles []candle.Candle
	err     error
}

// history is the historical chart's series and fetch status.
type history struct {
	symbol  string
	bar     time.Duration
	series  timeline.Series
	loading bool
	err     error
}

// Controller runs the session state machine. It is owned by the render
// loop's goroutine: Handle, Poll and View must not be called
// concurrently. Network I/O happens on the connector's goroutine and on
// short-lived fetch goroutines, which report back through channels
// drained by Poll.
type Controller struct {
	cfg Config
	log zerolog.Logger

	state State

	hist        history
	fetchGen    uint64
	fetchCancel context.CancelFunc

	stream   LiveStream
	events   <-chan stream.Event
	symbol   string
	status   ConnStatus
	agg      *aggregator.Aggregator
	merger   *timeline.Merger
	seedGen  uint64
	seedStop context.CancelFunc

	ticks []trade.Trade
	stats TickStats

	results chan fetchResult
	closed  chan struct{}
}

// NewController returns a Controller in the Landing state.
func NewController(cfg Config) *Controller {
	if cfg.Diag == nil {
		cfg.Diag = diag.New(diag.Config{})
	}
	if cfg.TickLimit <= 0 {
		cfg.TickLimit = DefaultTickLimit
	}
	if cfg.SeriesLimit <= 0 {
		cfg.SeriesLimit = timeline.DefaultLimit
	}
	if cfg.SeedBars <= 0 {
		cfg.SeedBars = DefaultSeedBars
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = DefaultPollBudget
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Controller{
		cfg:     cfg,
		log:     l.With().Str("component", "session").Logger(),
		state:   Landing{},
		results: make(chan fetchResult, 8),
		closed:  make(chan struct{}),
	}
}

// State returns the current state.
func (c *Controller) State() State { return c.state }

// Handle applies a user input and runs the resulting effects. Invalid
// inputs leave the state unchanged and return the error.
func (c *Controller) Handle(ctx context.Context, in Input) error {
	next, effects, err := Transition(c.state, in)
	if err != nil {
		if errors.Is(err, ErrInvalidSymbol) {
			c.cfg.Diag.Addf(zerolog.WarnLevel, "%v", err)
		}
		return err
	}
	if next.Name() != c.state.Name() {
		c.log.Info().Str("from", c.state.Name()).Str("to", next.Name()).Str("symbol", SymbolOf(next)).Msg("transition")
	}
	c.state = next
	for _, e := range effects {
		c.run(ctx, e)
	}
	return nil
}

func (c *Controller) run(ctx context.Context, e Effect) {
	switch e := e.(type) {
	case FetchHistory:
		c.fetchHistory(ctx, e)
	case ClearHistory:
		c.fetchGen++
		if c.fetchCancel != nil {
			c.fetchCancel()
			c.fetchCancel = nil
		}
		c.hist = history{}
	case ActivateStream:
		c.activate(ctx, e.Symbol)
	case DeactivateStream:
		c.deactivate()
	case ResetAggregator:
		c.agg = aggregator.New(aggregator.Config{Interval: e.Interval.Duration()})
		c.agg.Reset(e.Symbol)
		c.merger = nil
	case SeedMerger:
		c.seed(ctx, e)
	}
}

func (c *Controller) fetchHistory(ctx context.Context, e FetchHistory) {
	c.fetchGen++
	if c.fetchCancel != nil {
		c.fetchCancel()
	}
	now := c.cfg.Now()
	q := adapter.Query{
		Symbol: e.Symbol,
		Bar:    e.Timeframe.Bar(),
		From:   now.Add(-e.Timeframe.Lookback()),
		To:     now,
	}
	c.hist = history{symbol: e.Symbol, bar: q.Bar, loading: true}
	c.fetchCancel = c.fetch(ctx, historyFetch, c.fetchGen, q)
}

// fetch runs q on its own goroutine and reports on c.results.
func (c *Controller) fetch(ctx context.Context, kind fetchKind, gen uint64, q adapter.Query) context.CancelFunc {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	c.log.Debug().Str("symbol", q.Symbol).Dur("bar", q.Bar).Msg("fetching candles")
	go func() {
		defer cancel()
		cs, err := c.cfg.History.Candles(ctx, q)
		select {
		case c.results <- fetchResult{kind: kind, gen: gen, query: q, candles: cs, err: err}:
		case <-c.closed:
		}
	}()
	return cancel
}

// activate starts a connector. Transition only emits ActivateStream
// from HistoricalChart, where no stream is running.
func (c *Controller) activate(ctx context.Context, symbol string) {
	c.resetTicks()
	c.stream = c.cfg.Connect(ctx, symbol)
	c.events = c.stream.Events()
	c.symbol = symbol
	c.status = ConnStatus{State: stream.Connecting}
}

func (c *Controller) deactivate() {
	if c.stream != nil {
		c.stream.Deactivate()
		c.log.Info().Str("symbol", c.symbol).Msg("live stream stopped")
	}
	c.stream = nil
	c.events = nil
	c.symbol = ""
	c.status = ConnStatus{}
	c.agg = nil
	c.merger = nil
	c.seedGen++
	if c.seedStop != nil {
		c.seedStop()
		c.seedStop = nil
	}
	c.resetTicks()
}

func (c *Controller) resetTicks() {
	c.ticks = nil
	c.stats = TickStats{}
}

// seed builds the live series. History already fetched at the live
// interval is reused directly; otherwise recent bars are fetched and the
// series is rebuilt when they arrive.
func (c *Controller) seed(ctx context.Context, e SeedMerger) {
	c.seedGen++
	if c.seedStop != nil {
		c.seedStop()
		c.seedStop = nil
	}
	bar := e.Interval.Duration()
	opt := timeline.WithLimit(c.cfg.SeriesLimit)
	if c.hist.symbol == e.Symbol && c.hist.bar == bar && c.hist.series.Len() > 0 {
		c.merger = timeline.Build(c.hist.series.Candles(), c.agg, opt)
		return
	}
	c.merger = timeline.Build(nil, c.agg, opt)
	now := c.cfg.Now()
	c.seedStop = c.fetch(ctx, seedFetch, c.seedGen, adapter.Query{
		Symbol: e.Symbol,
		Bar:    bar,
		From:   now.Add(-time.Duration(c.cfg.SeedBars) * bar),
		To:     now,
	})
}

// PollResult reports what a Poll applied.
type PollResult struct {
	Trades  int
	Updates []candle.Candle
	Fetched bool
	Closed  bool
}

// Changed reports whether anything visible may have changed.
func (r PollResult) Changed() bool {
	return r.Trades > 0 || len(r.Updates) > 0 || r.Fetched || r.Closed
}

// Poll applies every pending fetch result and stream event without
// blocking. Stream events are bounded by the poll budget per call.
func (c *Controller) Poll() PollResult {
	var res PollResult
drain:
	for {
		select {
		case r := <-c.results:
			if c.applyFetch(r) {
				res.Fetched = true
			}
		default:
			break drain
		}
	}

	for i := 0; i < c.cfg.PollBudget && c.events != nil; i++ {
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.events = nil
				res.Closed = true
				c.log.Warn().Str("symbol", c.symbol).Msg("live stream ended")
				return res
			}
			c.apply(ev, &res)
		default:
			return res
		}
	}
	return res
}

func (c *Controller) applyFetch(r fetchResult) bool {
	switch r.kind {
	case historyFetch:
		if r.gen != c.fetchGen {
			return false
		}
		c.fetchCancel = nil
		c.hist.loading = false
		if r.err != nil {
			c.hist.err = r.err
			c.log.Warn().Err(r.err).Str("symbol", r.query.Symbol).Msg("historical fetch failed")
			c.cfg.Diag.Addf(zerolog.ErrorLevel, "%v", r.err)
			return true
		}
		c.hist.series = timeline.Build(r.candles, nil, timeline.WithLimit(c.cfg.SeriesLimit)).Series()
		c.log.Info().Str("symbol", r.query.Symbol).Int("candles", len(r.candles)).Msg("historical series loaded")
		return true

	case seedFetch:
		if r.gen != c.seedGen || c.agg == nil {
			return false
		}
		c.seedStop = nil
		if r.err != nil {
			c.log.Warn().Err(r.err).Str("symbol", r.query.Symbol).Msg("live seed fetch failed")
			c.cfg.Diag.Addf(zerolog.WarnLevel, "%v", r.err)
			return true
		}
		c.merger = timeline.Build(r.candles, c.agg, timeline.WithLimit(c.cfg.SeriesLimit))
		return true
	}
	return false
}

func (c *Controller) apply(ev stream.Event, res *PollResult) {
	switch ev := ev.(type) {
	case stream.TradeEvent:
		c.applyTrade(ev.Trade, res)

	case stream.StateEvent:
		prev := c.status.State
		switch ev.State {
		case stream.Subscribed:
			c.status = ConnStatus{State: ev.State, Since: ev.At}
		default:
			c.status = ConnStatus{State: ev.State, Attempt: ev.Attempt, Delay: ev.Delay, Err: ev.Err}
		}
		if ev.State != prev {
			c.cfg.Diag.Add(diag.Entry{Time: ev.At, Level: zerolog.InfoLevel, Message: fmt.Sprintf("%s: %s", ev.Symbol, ev.State)})
		}

	case stream.DiagnosticEvent:
		c.cfg.Diag.Add(ev.Entry)
	}
}

func (c *Controller) applyTrade(t trade.Trade, res *PollResult) {
	res.Trades++
	c.ticks = append([]trade.Trade{t}, c.ticks...)
	if len(c.ticks) > c.cfg.TickLimit {
		c.ticks = c.ticks[:c.cfg.TickLimit]
	}
	c.stats.Count++
	c.stats.Volume = c.stats.Volume.Add(t.Size)
	c.stats.LastPrice = t.Price
	c.stats.LastTime = t.Time

	if c.agg == nil {
		return
	}
	updates, err := c.agg.Ingest(t)
	if err != nil {
		var late *aggregator.LateTradeError
		if errors.As(err, &late) {
			c.cfg.Diag.Addf(zerolog.WarnLevel, "dropped late trade %s @ %s", t.Symbol, t.Time.Local().Format("15:04:05.000"))
		}
		c.log.Debug().Err(err).Msg("trade not aggregated")
		return
	}
	res.Updates = append(res.Updates, updates...)
	if c.merger == nil {
		return
	}
	for _, u := range updates {
		if err := c.merger.Apply(u); err != nil {
			c.cfg.Diag.Addf(zerolog.WarnLevel, "%v", err)
		}
	}
}

// View is a snapshot for rendering. Its slices are shared and must not
// be modified.
type View struct {
	State     State
	Symbol    string
	Timeframe candle.Timeframe
	Interval  candle.Interval

	History  timeline.Series
	Loading  bool
	FetchErr error

	Live      timeline.Series
	Ticks     []trade.Trade
	TickStats TickStats
	Status    ConnStatus

	Change    decimal.Decimal
	ChangePct decimal.Decimal
	HasChange bool

	Popular     []string
	Diagnostics []diag.Entry
	Now         time.Time
}

// View returns the current snapshot.
func (c *Controller) View() View {
	v := View{
		State:       c.state,
		Symbol:      SymbolOf(c.state),
		Timeframe:   timeframeOf(c.state),
		History:     c.hist.series,
		Loading:     c.hist.loading,
		FetchErr:    c.hist.err,
		Ticks:       c.ticks,
		TickStats:   c.stats,
		Status:      c.status,
		Popular:     c.cfg.Popular,
		Diagnostics: c.cfg.Diag.Recent(DefaultDiagView),
		Now:         c.cfg.Now(),
	}
	switch s := c.state.(type) {
	case LiveCandles:
		v.Interval = s.Interval
	case LiveTicker:
		v.Interval = s.Interval
	}
	if c.merger != nil {
		v.Live = c.merger.Series()
	}

	// Change is measured against the first historical close.
	if cs := c.hist.series.Candles(); len(cs) > 0 {
		base := cs[0].Close
		last := cs[len(cs)-1].Close
		if !c.stats.LastPrice.IsZero() {
			last = c.stats.LastPrice
		}
		v.Change = last.Sub(base)
		if !base.IsZero() {
			v.ChangePct = v.Change.Div(base).Mul(decimal.NewFromInt(100))
		}
		v.HasChange = true
	}
	return v
}

// Close tears down the live stream and abandons pending fetches.
func (c *Controller) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	c.deactivate()
	if c.fetchCancel != nil {
		c.fetchCancel()
	}
	close(c.closed)
}
