package okx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/model/trade"
)

const (
	wsEndpoint    = "wss://ws.okx.com:8443/ws/v5/public"
	tradesChannel = "trades"
)

// OKX drops connections idle for 30 s. The keepalive is the plain text
// "ping", answered with "pong".
var (
	pingFrame = []byte("ping")
	pongFrame = []byte("pong")
)

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// controlMsg is a subscription request. OKX echoes id in its response.
type controlMsg struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

func (a *Adapter) frame(op, symbol string, id uint64) ([]byte, error) {
	return json.Marshal(controlMsg{
		ID:   strconv.FormatUint(id, 10),
		Op:   op,
		Args: []arg{{Channel: tradesChannel, InstID: strings.ToUpper(symbol)}},
	})
}

func (a *Adapter) SubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return a.frame("subscribe", symbol, id)
}

func (a *Adapter) UnsubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return a.frame("unsubscribe", symbol, id)
}

func (a *Adapter) PingFrame() []byte { return pingFrame }

// wsMsg is the OKX WebSocket envelope:
//
//	{"id":"3","event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"},"connId":"a4d3ae55"}
//	{"id":"3","event":"error","code":"60012","msg":"Invalid request"}
//	{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","px":"42219.9","sz":"0.12","side":"buy","ts":"1630048897897"}]}
type wsMsg struct {
	ID    string    `json:"id"`
	Event string    `json:"event"`
	Code  string    `json:"code"`
	Msg   string    `json:"msg"`
	Arg   arg       `json:"arg"`
	Data  []wsTrade `json:"data"`
}

type wsTrade struct {
	InstID string `json:"instId" validate:"required"`
	Price  string `json:"px" validate:"required,numeric"`
	Size   string `json:"sz" validate:"required,numeric"`
	Side   string `json:"side" validate:"omitempty,oneof=buy sell"`
	TS     string `json:"ts" validate:"required,numeric"`
}

// tradePush is the validated shape of a trades channel message.
type tradePush struct {
	Data []wsTrade `validate:"required,min=1,dive"`
}

func (a *Adapter) Decode(raw []byte) (adapter.Frame, error) {
	if bytes.Equal(bytes.TrimSpace(raw), pongFrame) {
		return adapter.Frame{Kind: adapter.FrameHeartbeat}, nil
	}

	var m wsMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	if m.Event != "" {
		var id uint64
		if m.ID != "" {
			var err error
			if id, err = strconv.ParseUint(m.ID, 10, 64); err != nil {
				return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("bad id %q", m.ID), raw)
			}
		}
		switch m.Event {
		case "subscribe", "unsubscribe":
			return adapter.Frame{Kind: adapter.FrameAck, AckID: id}, nil
		case "error":
			return adapter.Frame{
				Kind:   adapter.FrameNotice,
				AckID:  id,
				Notice: fmt.Sprintf("api error %s: %s", m.Code, m.Msg),
			}, nil
		case "notice":
			return adapter.Frame{Kind: adapter.FrameNotice, Notice: m.Msg}, nil
		}
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("unexpected event %q", m.Event), raw)
	}

	if m.Arg.Channel != tradesChannel {
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("unexpected channel %q", m.Arg.Channel), raw)
	}
	if err := a.validate.Struct(&tradePush{Data: m.Data}); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	trades := make([]trade.Trade, 0, len(m.Data))
	for i, d := range m.Data {
		ts, err := strconv.ParseInt(d.TS, 10, 64)
		if err != nil || ts <= 0 {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad ts %q", i, d.TS), raw)
		}
		price, err := decimal.NewFromString(d.Price)
		if err != nil || !price.IsPositive() {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad price %q", i, d.Price), raw)
		}
		size, err := decimal.NewFromString(d.Size)
		if err != nil || size.IsNegative() {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad size %q", i, d.Size), raw)
		}
		trades = append(trades, trade.Trade{
			Symbol: d.InstID,
			Price:  price,
			Size:   size,
			Time:   time.UnixMilli(ts).UTC(),
		})
	}
	return adapter.Frame{Kind: adapter.FrameTrades, Trades: trades}, nil
}
