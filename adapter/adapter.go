package adapter

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/model/trade"
)

// FrameKind classifies a decoded provider frame.
type FrameKind int

const (
	// FrameTrades carries one or more trades.
	FrameTrades FrameKind = iota
	// FrameHeartbeat is a provider keepalive; it needs no action.
	FrameHeartbeat
	// FrameAck acknowledges a subscribe/unsubscribe request by id.
	FrameAck
	// FrameNotice is a provider-side message (e.g. an invalid symbol
	// error) that should be shown but does not end the session.
	FrameNotice
)

func (k FrameKind) String() string {
	switch k {
	case FrameTrades:
		return "trades"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameAck:
		return "ack"
	case FrameNotice:
		return "notice"
	}
	return fmt.Sprintf("FrameKind(%d)", int(k))
}

// Frame is the normalized content of one provider wire message.
type Frame struct {
	Kind   FrameKind
	Trades []trade.Trade
	AckID  uint64
	Notice string
}

// Provider describes a market-data stream provider's wire protocol.
// Implementations are stateless: the stream connector owns the socket
// and calls these methods to build and interpret frames.
type Provider interface {
	// Name identifies the provider in logs and diagnostics.
	Name() string

	// Endpoint returns the websocket URL to dial, including any
	// credentials the provider's auth step expects.
	Endpoint() (string, error)

	// SubscribeFrame and UnsubscribeFrame build control messages.
	// id is echoed back in FrameAck by providers that acknowledge
	// requests; others ignore it.
	SubscribeFrame(symbol string, id uint64) ([]byte, error)
	UnsubscribeFrame(symbol string, id uint64) ([]byte, error)

	// Decode parses one text frame. Unknown or malformed frames yield a
	// *DecodeError and must never be treated as fatal.
	Decode(raw []byte) (Frame, error)
}

// Pinger is implemented by providers that expect an application-level
// keepalive instead of websocket ping frames. Replies decode as
// FrameHeartbeat.
type Pinger interface {
	PingFrame() []byte
}

// DecodeError reports a frame that could not be interpreted.
type DecodeError struct {
	Provider string
	Reason   string
	Raw      string
}

// maxRawExcerpt bounds how much of an offending frame is kept.
const maxRawExcerpt = 120

// NewDecodeError builds a DecodeError keeping a short excerpt of raw.
func NewDecodeError(provider, reason string, raw []byte) *DecodeError {
	ex := raw
	if len(ex) > maxRawExcerpt {
		ex = ex[:maxRawExcerpt]
	}
	return &DecodeError{Provider: provider, Reason: reason, Raw: string(ex)}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode: %s: %q", e.Provider, e.Reason, e.Raw)
}

// Query selects a historical candle range.
type Query struct {
	Symbol string
	Bar    time.Duration
	From   time.Time
	To     time.Time
}

// History fetches completed historical candles, oldest first.
type History interface {
	Candles(ctx context.Context, q Query) ([]candle.Candle, error)
}

// DropForming removes candles still open at to, which exchanges return
// as the newest kline. A zero to keeps everything. cs is filtered in place.
func DropForming(cs []candle.Candle, to time.Time) []candle.Candle {
	if to.IsZero() {
		return cs
	}
	return slices.DeleteFunc(cs, func(c candle.Candle) bool { return c.End().After(to) })
}

// FetchErrorKind classifies a historical fetch failure.
type FetchErrorKind int

const (
	FetchNetwork FetchErrorKind = iota
	FetchRateLimited
	FetchUnknownSymbol
	FetchBadResponse
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchNetwork:
		return "network"
	case FetchRateLimited:
		return "rate limited"
	case FetchUnknownSymbol:
		return "unknown symbol"
	case FetchBadResponse:
		return "bad response"
	}
	return fmt.Sprintf("FetchErrorKind(%d)", int(k))
}

// FetchError is returned by History implementations. It is transient
// from the caller's point of view: retrying is a user action.
type FetchError struct {
	Kind     FetchErrorKind
	Provider string
	Symbol   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %s: %v", e.Provider, e.Symbol, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError maps a non-200 HTTP status to a FetchError.
func StatusError(provider, symbol string, resp *http.Response) *FetchError {
	kind := FetchBadResponse
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		kind = FetchRateLimited
	case http.StatusNotFound, http.StatusBadRequest:
		kind = FetchUnknownSymbol
	}
	return &FetchError{
		Kind:     kind,
		Provider: provider,
		Symbol:   symbol,
		Err:      fmt.Errorf("unexpected status %s", resp.Status),
	}
}
