package okx

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yitech/livecandles/adapter"
)

const name = "okx"

// Adapter is the OKX exchange adapter: a public trades stream provider
// and a REST history-candles source. Symbols are OKX instrument ids
// such as BTC-USDT.
type Adapter struct {
	httpClient *http.Client
	wsURL      string
	restURL    string
	validate   *validator.Validate
}

var (
	_ adapter.Provider = (*Adapter)(nil)
	_ adapter.History  = (*Adapter)(nil)
	_ adapter.Pinger   = (*Adapter)(nil)
)

func New() *Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wsURL:      wsEndpoint,
		restURL:    baseURL,
		validate:   validator.New(),
	}
}

// WithURLs points the adapter at other endpoints (tests, demo trading).
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

func (a *Adapter) Endpoint() (string, error) { return a.wsURL, nil }
