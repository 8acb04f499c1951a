// Package stream maintains a live trade subscription for one symbol at a
// time over a provider websocket, reconnecting with backoff and
// resubscribing whenever the connection is lost.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/diag"
)

const (
	DefaultBackoffMin   = time.Second
	DefaultBackoffMax   = 30 * time.Second
	DefaultPingPeriod   = 20 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultStopTimeout  = 5 * time.Second
	DefaultEventBuffer  = 1024
)

// Config wires a Connector. Zero durations take defaults.
type Config struct {
	Provider adapter.Provider
	Dialer   Dialer
	Logger   *zerolog.Logger

	BackoffMin   time.Duration
	BackoffMax   time.Duration
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	StopTimeout  time.Duration
	EventBuffer  int

	Now func() time.Time
}

// Connector activates streams against a single provider.
type Connector struct {
	cfg Config
	log zerolog.Logger
}

// New returns a Connector. A nil Dialer uses gorilla/websocket.
func New(cfg Config) *Connector {
	if cfg.Dialer == nil {
		cfg.Dialer = NewWebsocketDialer()
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = DefaultBackoffMax
		if cfg.BackoffMax < cfg.BackoffMin {
			cfg.BackoffMax = cfg.BackoffMin
		}
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := log.Logger
	if cfg.Logger != nil {
		l = *cfg.Logger
	}
	return &Connector{
		cfg: cfg,
		log: l.With().Str("component", "stream").Str("provider", cfg.Provider.Name()).Logger(),
	}
}

// Stats are cumulative counters for one Stream.
type Stats struct {
	Dials        uint64
	Subscribes   uint64
	Unsubscribes uint64
	DecodeErrors uint64
	Raced        uint64
	Trades       uint64
}

// Stream is the handle for one activation. Its methods are safe for
// concurrent use; all socket I/O happens on the stream's own goroutine.
type Stream struct {
	cmds   chan string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	stopTimeout time.Duration
	stopOnce    sync.Once
	log         zerolog.Logger

	dials, subscribes, unsubscribes atomic.Uint64
	decodeErrors, raced, trades     atomic.Uint64
}

// Activate starts a stream for symbol. The stream runs until Deactivate
// is called or ctx is cancelled; in both cases Events is closed once the
// stream has fully stopped.
func (c *Connector) Activate(ctx context.Context, symbol string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		cmds:        make(chan string, 16),
		events:      make(chan Event, c.cfg.EventBuffer),
		cancel:      cancel,
		done:        make(chan struct{}),
		stopTimeout: c.cfg.StopTimeout,
		log:         c.log,
	}
	r := &runner{
		cfg:     c.cfg,
		log:     c.log,
		s:       s,
		desired: symbol,
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		r.run(ctx)
	}()
	return s
}

// Events returns the outbound event channel.
func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed after the stream goroutine has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

// ChangeSymbol retargets the stream. While connected it unsubscribes the
// old symbol and subscribes the new one; while disconnected the new
// symbol becomes the pending target for the next successful connect.
func (s *Stream) ChangeSymbol(symbol string) {
	select {
	case s.cmds <- symbol:
	case <-s.done:
	}
}

// Deactivate stops the stream, unsubscribing and closing the socket on a
// best-effort basis. It waits a bounded time for the goroutine to exit
// and is safe to call more than once.
func (s *Stream) Deactivate() {
	s.stopOnce.Do(func() {
		s.cancel()
		t := time.NewTimer(s.stopTimeout)
		defer t.Stop()
		select {
		case <-s.done:
		case <-t.C:
			s.log.Warn().Dur("timeout", s.stopTimeout).Msg("stream did not stop in time")
		}
	})
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Dials:        s.dials.Load(),
		Subscribes:   s.subscribes.Load(),
		Unsubscribes: s.unsubscribes.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Raced:        s.raced.Load(),
		Trades:       s.trades.Load(),
	}
}

// runner is the state owned by the stream goroutine.
type runner struct {
	cfg Config
	log zerolog.Logger
	s   *Stream

	desired    string
	generation uint64

	// subscribed is the symbol subscribed on the open connection, or "".
	subscribed string
	// subID is the request id of the live subscribe; unsubIDs are
	// requests whose acks are expected but carry no meaning.
	subID    uint64
	unsubIDs map[uint64]struct{}
	nextID   uint64
}

var errPermanent = errors.New("permanent failure")

func (r *runner) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.BackoffMin
	bo.MaxInterval = r.cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()

	// Each retry is announced once, with its delay, after the failure.
	r.emitState(ctx, StateEvent{State: Connecting})
	attempt := 0
	for {
		established, err := r.session(ctx)
		if ctx.Err() != nil {
			r.emitFinal(StateEvent{State: Disconnected, Symbol: r.desired, At: r.cfg.Now()})
			return
		}
		if errors.Is(err, errPermanent) {
			r.diagnose(ctx, zerolog.ErrorLevel, err)
			r.emitFinal(StateEvent{State: Disconnected, Symbol: r.desired, Err: err, At: r.cfg.Now()})
			return
		}
		if established {
			bo.Reset()
			attempt = 0
		}
		attempt++
		delay := bo.NextBackOff()
		cerr := &ConnectionError{Attempt: attempt, Err: err}
		r.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connection lost, reconnecting")
		r.diagnose(ctx, zerolog.WarnLevel, cerr)
		r.emitState(ctx, StateEvent{State: Resubscribing, Attempt: attempt, Delay: delay, Err: cerr})

		if !r.wait(ctx, delay) {
			r.emitFinal(StateEvent{State: Disconnected, Symbol: r.desired, At: r.cfg.Now()})
			return
		}
	}
}

// wait sleeps for d while accepting symbol changes.
func (r *runner) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case <-ctx.Done():
			return false
		case sym := <-r.s.cmds:
			r.retarget(sym)
		}
	}
}

// retarget records a new desired symbol without touching the socket.
func (r *runner) retarget(symbol string) bool {
	if strings.EqualFold(symbol, r.desired) {
		return false
	}
	r.log.Debug().Str("from", r.desired).Str("to", symbol).Msg("retarget")
	r.desired = symbol
	r.generation++
	return true
}

// session runs one connection. established reports whether the dial
// succeeded, which resets the backoff.
func (r *runner) session(ctx context.Context) (established bool, err error) {
	url, err := r.cfg.Provider.Endpoint()
	if err != nil {
		return false, fmt.Errorf("%w: %w", errPermanent, err)
	}
	r.s.dials.Add(1)
	conn, err := r.cfg.Dialer.Dial(ctx, url)
	if err != nil {
		return false, err
	}
	r.log.Info().Str("symbol", r.desired).Msg("connected")

	frames := make(chan []byte, 64)
	readErr := make(chan error, 1)
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- msg:
			case <-quit:
				return
			}
		}
	}()
	defer func() {
		close(quit)
		_ = conn.Close()
		wg.Wait()
	}()

	r.subscribed = ""
	r.subID = 0
	r.unsubIDs = make(map[uint64]struct{})

	// Symbol changes queued while dialing collapse into the single
	// subscribe below.
	r.drain()
	if err := r.subscribe(ctx, conn); err != nil {
		return true, err
	}

	ping := time.NewTicker(r.cfg.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown(conn)
			return true, ctx.Err()
		case sym := <-r.s.cmds:
			if !r.retarget(sym) {
				continue
			}
			if err := r.resubscribe(ctx, conn); err != nil {
				return true, err
			}
		case msg := <-frames:
			r.handle(ctx, msg)
		case err := <-readErr:
			return true, fmt.Errorf("read: %w", err)
		case <-ping.C:
			if err := r.ping(conn); err != nil {
				return true, fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (r *runner) drain() {
	for {
		select {
		case sym := <-r.s.cmds:
			r.retarget(sym)
		default:
			return
		}
	}
}

func (r *runner) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *runner) write(conn Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(r.cfg.Now().Add(r.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

// ping sends the provider's keepalive message, or a protocol ping when
// the provider has none.
func (r *runner) ping(conn Conn) error {
	if p, ok := r.cfg.Provider.(adapter.Pinger); ok {
		return r.write(conn, websocket.TextMessage, p.PingFrame())
	}
	return r.write(conn, websocket.PingMessage, nil)
}

func (r *runner) subscribe(ctx context.Context, conn Conn) error {
	id := r.id()
	msg, err := r.cfg.Provider.SubscribeFrame(r.desired, id)
	if err != nil {
		return fmt.Errorf("%w: subscribe frame: %w", errPermanent, err)
	}
	if err := r.write(conn, websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	r.s.subscribes.Add(1)
	r.subscribed = r.desired
	r.subID = id
	r.log.Info().Str("symbol", r.desired).Uint64("id", id).Msg("subscribed")
	r.emitState(ctx, StateEvent{State: Subscribed})
	return nil
}

func (r *runner) unsubscribe(conn Conn) error {
	if r.subscribed == "" {
		return nil
	}
	id := r.id()
	msg, err := r.cfg.Provider.UnsubscribeFrame(r.subscribed, id)
	if err != nil {
		return fmt.Errorf("%w: unsubscribe frame: %w", errPermanent, err)
	}
	if err := r.write(conn, websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	r.s.unsubscribes.Add(1)
	r.unsubIDs[id] = struct{}{}
	r.log.Debug().Str("symbol", r.subscribed).Uint64("id", id).Msg("unsubscribed")
	r.subscribed = ""
	r.subID = 0
	return nil
}

func (r *runner) resubscribe(ctx context.Context, conn Conn) error {
	if err := r.unsubscribe(conn); err != nil {
		return err
	}
	return r.subscribe(ctx, conn)
}

// shutdown is best effort; the connection is closed by the caller.
func (r *runner) shutdown(conn Conn) {
	if err := r.unsubscribe(conn); err != nil {
		r.log.Debug().Err(err).Msg("unsubscribe on shutdown")
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := r.write(conn, websocket.CloseMessage, msg); err != nil {
		r.log.Debug().Err(err).Msg("close frame on shutdown")
	}
}

func (r *runner) handle(ctx context.Context, raw []byte) {
	if ctx.Err() != nil {
		return
	}
	f, err := r.cfg.Provider.Decode(raw)
	if err != nil {
		r.s.decodeErrors.Add(1)
		r.log.Warn().Err(err).Msg("decode")
		r.diagnose(ctx, zerolog.WarnLevel, err)
		return
	}

	switch f.Kind {
	case adapter.FrameHeartbeat:
		r.log.Trace().Msg("heartbeat")
	case adapter.FrameAck:
		if f.AckID == r.subID {
			r.log.Debug().Uint64("id", f.AckID).Msg("subscription confirmed")
			return
		}
		if _, ok := r.unsubIDs[f.AckID]; ok {
			delete(r.unsubIDs, f.AckID)
			return
		}
		r.discard(&SubscriptionRaceError{Desired: r.desired, RequestID: f.AckID})
	case adapter.FrameNotice:
		if f.AckID != 0 && f.AckID != r.subID {
			r.discard(&SubscriptionRaceError{Desired: r.desired, RequestID: f.AckID})
			return
		}
		r.log.Warn().Str("notice", f.Notice).Msg("provider notice")
		r.diagnose(ctx, zerolog.ErrorLevel, fmt.Errorf("%s: %s", r.cfg.Provider.Name(), f.Notice))
	case adapter.FrameTrades:
		for _, t := range f.Trades {
			if !strings.EqualFold(t.Symbol, r.desired) {
				r.discard(&SubscriptionRaceError{Symbol: t.Symbol, Desired: r.desired})
				continue
			}
			select {
			case r.s.events <- TradeEvent{Trade: t, Generation: r.generation}:
				r.s.trades.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *runner) discard(err *SubscriptionRaceError) {
	r.s.raced.Add(1)
	r.log.Debug().Err(err).Msg("discarded")
}

func (r *runner) emitState(ctx context.Context, ev StateEvent) {
	ev.Symbol = r.desired
	ev.At = r.cfg.Now()
	select {
	case r.s.events <- ev:
	case <-ctx.Done():
	}
}

// emitFinal delivers the last state without blocking; the consumer may
// already have stopped reading.
func (r *runner) emitFinal(ev StateEvent) {
	select {
	case r.s.events <- ev:
	default:
	}
}

// diagnose never blocks; diagnostics are dropped if the buffer is full.
func (r *runner) diagnose(ctx context.Context, level zerolog.Level, err error) {
	if ctx.Err() != nil {
		return
	}
	ev := DiagnosticEvent{
		Entry: diag.Entry{Time: r.cfg.Now(), Level: level, Message: err.Error()},
		Err:   err,
	}
	select {
	case r.s.events <- ev:
	default:
	}
}
