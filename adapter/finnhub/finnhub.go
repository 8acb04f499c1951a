package finnhub

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/model/trade"
)

const (
	name      = "finnhub"
	wsBaseURL = "wss://ws.finnhub.io"
)

// ErrNoToken is returned by Endpoint when no API key is configured.
var ErrNoToken = errors.New("finnhub: no API key configured (set FINNHUB_API_KEY)")

// Provider speaks the Finnhub trades websocket protocol. Authentication
// is the token query parameter on the upgrade request.
type Provider struct {
	token   string
	baseURL string
}

var _ adapter.Provider = (*Provider)(nil)

// New returns a Finnhub provider authenticating with token.
func New(token string) *Provider {
	return &Provider{token: token, baseURL: wsBaseURL}
}

// WithBaseURL points the provider at another endpoint (tests, proxies).
func (p *Provider) WithBaseURL(u string) *Provider {
	cp := *p
	cp.baseURL = u
	return &cp
}

func (p *Provider) Name() string { return name }

func (p *Provider) Endpoint() (string, error) {
	if p.token == "" {
		return "", ErrNoToken
	}
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("finnhub: parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", p.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// controlMsg is the subscribe/unsubscribe request. Finnhub does not
// acknowledge requests, so the id is not sent.
type controlMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

func (p *Provider) SubscribeFrame(symbol string, _ uint64) ([]byte, error) {
	return json.Marshal(controlMsg{Type: "subscribe", Symbol: symbol})
}

func (p *Provider) UnsubscribeFrame(symbol string, _ uint64) ([]byte, error) {
	return json.Marshal(controlMsg{Type: "unsubscribe", Symbol: symbol})
}

// wsMsg is the Finnhub message envelope:
//
//	{"type":"trade","data":[{"p":189.1,"s":"AAPL","t":1700000000000,"v":10}]}
//	{"type":"ping"}
//	{"type":"error","msg":"Invalid symbol"}
type wsMsg struct {
	Type string    `json:"type"`
	Data []wsTrade `json:"data"`
	Msg  string    `json:"msg"`
}

type wsTrade struct {
	Price  decimal.Decimal `json:"p"`
	Symbol string          `json:"s"`
	Time   int64           `json:"t"` // Unix ms
	Volume decimal.Decimal `json:"v"`
}

func (p *Provider) Decode(raw []byte) (adapter.Frame, error) {
	var m wsMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return adapter.Frame{}, adapter.NewDecodeError(name, err.Error(), raw)
	}

	switch m.Type {
	case "ping":
		return adapter.Frame{Kind: adapter.FrameHeartbeat}, nil
	case "error":
		return adapter.Frame{Kind: adapter.FrameNotice, Notice: m.Msg}, nil
	case "trade":
	default:
		return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("unknown frame type %q", m.Type), raw)
	}

	if len(m.Data) == 0 {
		return adapter.Frame{}, adapter.NewDecodeError(name, "trade frame without data", raw)
	}
	trades := make([]trade.Trade, 0, len(m.Data))
	for i, d := range m.Data {
		switch {
		case d.Symbol == "":
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] missing symbol", i), raw)
		case d.Time <= 0:
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] missing timestamp", i), raw)
		case !d.Price.IsPositive():
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] bad price %s", i, d.Price), raw)
		case d.Volume.IsNegative():
			return adapter.Frame{}, adapter.NewDecodeError(name, fmt.Sprintf("trade[%d] negative volume %s", i, d.Volume), raw)
		}
		trades = append(trades, trade.Trade{
			Symbol: d.Symbol,
			Price:  d.Price,
			Size:   d.Volume,
			Time:   time.UnixMilli(d.Time).UTC(),
		})
	}
	return adapter.Frame{Kind: adapter.FrameTrades, Trades: trades}, nil
}
