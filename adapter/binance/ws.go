package binance

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/model/trade"
)

const wsBaseURL = "wss://stream.binance.com:9443/ws"

// streamName is the raw trade stream for symbol, e.g. "btcusdt@trade".
func streamName(symbol string) string {
	return strings.ToLower(symbol) + "@trade"
}

// controlMsg is a live subscription request. Binance echoes id in its
// response, which lets the connector recognize stale acknowledgements.
type controlMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

func (a *Adapter) SubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return json.Marshal(controlMsg{Method: "SUBSCRIBE", Params: []string{streamName(symbol)}, ID: id})
}

func (a *Adapter) UnsubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return json.Marshal(controlMsg{Method: "UNSUBSCRIBE", Params: []string{streamName(symbol)}, ID: id})
}

// wsMsg covers both shapes Binance sends on a raw stream connection:
//
//	{"result":null,"id":3}                                   request response
//	{"error":{"code":2,"msg":"Invalid request"},"id":3}      request failure
//	{"e":"trade","E":1,"s":"BTCUSDT","t":9,"p":"1.0","q":"2.0","T":1,"m":true,"M":true}
//
// Keys differing only in case each need their own field, otherwise the
// decoder folds "E" into "e" and "t" into "T".
type wsMsg struct {
	ID         *uint64         `json:"id"`
	Error      *wsError        `json:"error"`
	EventType  string          `json:"e"`
	EventTime  int64           `json:"E"`
	Symbol     string          `json:"s"`
	TradeID    int64           `json:"t"`
	Price      decimal.Decimal `json:"p"`
	Quantity   decimal.Decimal `json:"q"`
	TradeTime  int64           `json:"T"`
	BuyerMaker bool            `json:"m"`
	Ignore     bool            `json:"M"`
}

type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (a *Adapter) Decode(raw []byte) (adapter.Frame, error) {
	var m wsMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	if m.ID != nil {
		if m.Error != nil {
			return adapter.Frame{
				Kind:   adapter.FrameNotice,
				AckID:  *m.ID,
				Notice: fmt.Sprintf("request %d failed: %d %s", *m.ID, m.Error.Code, m.Error.Msg),
			}, nil
		}
		return adapter.Frame{Kind: adapter.FrameAck, AckID: *m.ID}, nil
	}

	if m.EventType != "trade" {
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("unexpected event type %q", m.EventType), raw)
	}
	switch {
	case m.Symbol == "":
		return adapter.Frame{}, adapter.NewDecodeError(name, "trade missing symbol", raw)
	case m.TradeTime <= 0:
		return adapter.Frame{}, adapter.NewDecodeError(name, "trade missing time", raw)
	case !m.Price.IsPositive():
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("bad price %s", m.Price), raw)
	case m.Quantity.IsNegative():
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("negative quantity %s", m.Quantity), raw)
	}

	return adapter.Frame{
		Kind: adapter.FrameTrades,
		Trades: []trade.Trade{{
			Symbol: m.Symbol,
			Price:  m.Price,
			Size:   m.Quantity,
			Time:   time.UnixMilli(m.TradeTime).UTC(),
		}},
	}, nil
}
