package bybit

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yitech/livecandles/adapter"
)

const name = "bybit"

// Adapter is the Bybit exchange adapter: a spot trade stream provider
// and a REST kline history source.
type Adapter struct {
	httpClient *http.Client
	category   string // "spot" | "linear" | "inverse"
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
		category:   "spot",
		wsURL:      wsBaseURL,
		restURL:    baseURL,
		validate:   validator.New(),
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

func (a *Adapter) Endpoint() (string, error) { return a.wsURL, nil }
