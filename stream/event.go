package stream

import (
	"fmt"
	"time"

	"github.com/yitech/livecandles/diag"
	"github.com/yitech/livecandles/model/trade"
)

// State is the connector's connectivity state as reported to the owner.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Resubscribing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Resubscribing:
		return "resubscribing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is delivered on a Stream's outbound channel. It is one of
// TradeEvent, StateEvent or DiagnosticEvent.
type Event interface {
	event()
}

// TradeEvent carries a trade for the currently desired symbol.
type TradeEvent struct {
	Trade      trade.Trade
	Generation uint64
}

// StateEvent reports a connectivity transition. Attempt and Delay are
// set while Resubscribing; Err holds the failure that caused it.
type StateEvent struct {
	State   State
	Symbol  string
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// DiagnosticEvent is a non-fatal problem worth showing to the user.
type DiagnosticEvent struct {
	Entry diag.Entry
	Err   error
}

func (TradeEvent) event()      {}
func (StateEvent) event()      {}
func (DiagnosticEvent) event() {}

// ConnectionError wraps a transient dial/read/write failure.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscriptionRaceError describes a frame that belongs to a superseded
// subscription. Such frames are discarded without surfacing them.
type SubscriptionRaceError struct {
	Symbol    string
	Desired   string
	RequestID uint64
}

func (e *SubscriptionRaceError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("stale response for request %d (desired %s)", e.RequestID, e.Desired)
	}
	return fmt.Sprintf("stale frame for %s (desired %s)", e.Symbol, e.Desired)
}
