package bybit

import (
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
	wsBaseURL   = "wss://stream.bybit.com/v5/public/spot"
	topicPrefix = "publicTrade."
)

// Bybit closes connections that send nothing for 20 s; a JSON ping
// counts, websocket ping frames do not.
var pingFrame = []byte(`{"op":"ping"}`)

func topic(symbol string) string {
	return topicPrefix + strings.ToUpper(symbol)
}

// controlMsg is a subscription request. Bybit echoes req_id in its
// response.
type controlMsg struct {
	ReqID string   `json:"req_id"`
	Op    string   `json:"op"`
	Args  []string `json:"args"`
}

func (a *Adapter) SubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return json.Marshal(controlMsg{ReqID: strconv.FormatUint(id, 10), Op: "subscribe", Args: []string{topic(symbol)}})
}

func (a *Adapter) UnsubscribeFrame(symbol string, id uint64) ([]byte, error) {
	return json.Marshal(controlMsg{ReqID: strconv.FormatUint(id, 10), Op: "unsubscribe", Args: []string{topic(symbol)}})
}

func (a *Adapter) PingFrame() []byte { return pingFrame }

// wsMsg is the Bybit V5 envelope:
//
//	{"success":true,"ret_msg":"","req_id":"3","op":"subscribe"}
//	{"req_id":"","op":"pong","args":["1675418560633"]}
//	{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1,"data":[{"T":1,"s":"BTCUSDT","S":"Buy","v":"0.001","p":"16578.50"}]}
type wsMsg struct {
	Op      string    `json:"op"`
	Success *bool     `json:"success"`
	RetMsg  string    `json:"ret_msg"`
	ReqID   string    `json:"req_id"`
	Topic   string    `json:"topic"`
	Data    []wsTrade `json:"data"`
}

type wsTrade struct {
	Time   int64  `json:"T" validate:"gt=0"`
	Symbol string `json:"s" validate:"required"`
	Side   string `json:"S" validate:"omitempty,oneof=Buy Sell"`
	Volume string `json:"v" validate:"required,numeric"`
	Price  string `json:"p" validate:"required,numeric"`
}

// tradePush is the validated shape of a publicTrade message.
type tradePush struct {
	Data []wsTrade `validate:"required,min=1,dive"`
}

func (a *Adapter) Decode(raw []byte) (adapter.Frame, error) {
	var m wsMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	switch m.Op {
	case "ping", "pong":
		return adapter.Frame{Kind: adapter.FrameHeartbeat}, nil
	case "subscribe", "unsubscribe":
		id, err := strconv.ParseUint(m.ReqID, 10, 64)
		if err != nil {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("bad req_id %q", m.ReqID), raw)
		}
		if m.Success != nil && !*m.Success {
			return adapter.Frame{
				Kind:   adapter.FrameNotice,
				AckID:  id,
				Notice: fmt.Sprintf("%s %s failed: %s", m.Op, m.ReqID, m.RetMsg),
			}, nil
		}
		return adapter.Frame{Kind: adapter.FrameAck, AckID: id}, nil
	}

	if !strings.HasPrefix(m.Topic, topicPrefix) {
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("unexpected message (op %q, topic %q)", m.Op, m.Topic), raw)
	}
	if err := a.validate.Struct(&tradePush{Data: m.Data}); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	trades := make([]trade.Trade, 0, len(m.Data))
	for i, d := range m.Data {
		price, err := decimal.NewFromString(d.Price)
		if err != nil || !price.IsPositive() {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad price %q", i, d.Price), raw)
		}
		size, err := decimal.NewFromString(d.Volume)
		if err != nil || size.IsNegative() {
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad volume %q", i, d.Volume), raw)
		}
		trades = append(trades, trade.Trade{
			Symbol: d.Symbol,
			Price:  price,
			Size:   size,
			Time:   time.UnixMilli(d.Time).UTC(),
		})
	}
	return adapter.Frame{Kind: adapter.FrameTrades, Trades: trades}, nil
}
