package binance

import (
	"net/http"
	"time"

	"github.com/yitech/livecandles/adapter"
)

const name = "binance"

// Adapter is the Binance exchange adapter: a trade stream provider and a
// REST kline history source.
type Adapter struct {
	httpClient *http.Client
	wsURL      string
	restURL    string
}

var (
	_ adapter.Provider = (*Adapter)(nil)
	_ adapter.History  = (*Adapter)(nil)
)

func New() *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wsURL:      wsBaseURL,
		restURL:    baseURL,
	}
}

// WithURLs points the adapter at other endpoints (tests, testnet).
// Empty arguments keep the current value.
func (a *Adapter) WithURLs(ws, rest string) *Adapter {
	cp := *a
	if ws != "" {
		cp.wsURL = ws
	}
	if rest != "" {
		cp.restURL = rest
	}
	return &cp
}

func (a *Adapter) Name() string { return name }

// Endpoint needs no credentials: public market streams are anonymous.
func (a *Adapter) Endpoint() (string, error) { return a.wsURL, nil }
