package yahoo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/model/candle"
)

const (
	name      = "yahoo"
	baseURL   = "https://query1.finance.yahoo.com"
	chartPath = "/v8/finance/chart/"
	userAgent = "Mozilla/5.0 (livecandles)"
)

var barIntervals = map[time.Duration]string{
	time.Minute:        "1m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "60m",
	24 * time.Hour:     "1d",
	7 * 24 * time.Hour: "1wk",
}

// Client fetches equity and index candles from the Yahoo chart API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var _ adapter.History = (*Client)(nil)

func New() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

// WithBaseURL points the client at another host (tests).
func (c *Client) WithBaseURL(u string) *Client {
	cp := *c
	cp.baseURL = u
	return &cp
}

// chartResponse is the subset of the chart API payload we read. Quote
// arrays contain nulls for bars without trades.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Candles fetches bars of width q.Bar covering [q.From, q.To].
func (c *Client) Candles(ctx context.Context, q adapter.Query) ([]candle.Candle, error) {
	interval, ok := barIntervals[q.Bar]
	if !ok {
		return nil, &adapter.FetchError{
			Kind:     adapter.FetchBadResponse,
			Provider: name,
			Symbol:   q.Symbol,
			Err:      fmt.Errorf("unsupported bar %v", q.Bar),
		}
	}

	u, err := url.Parse(c.baseURL + chartPath + url.PathEscape(q.Symbol))
	if err != nil {
		return nil, fmt.Errorf("yahoo: parse url: %w", err)
	}
	v := u.Query()
	v.Set("interval", interval)
	v.Set("period1", strconv.FormatInt(q.From.Unix(), 10))
	v.Set("period2", strconv.FormatInt(q.To.Unix(), 10))
	u.RawQuery = v.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("yahoo: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchNetwork, Provider: name, Symbol: q.Symbol, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, adapter.StatusError(name, q.Symbol, resp)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: q.Symbol, Err: err}
	}
	if e := body.Chart.Error; e != nil {
		return nil, &adapter.FetchError{
			Kind:     adapter.FetchUnknownSymbol,
			Provider: name,
			Symbol:   q.Symbol,
			Err:      fmt.Errorf("%s: %s", e.Code, e.Description),
		}
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &adapter.FetchError{
			Kind:     adapter.FetchUnknownSymbol,
			Provider: name,
			Symbol:   q.Symbol,
			Err:      fmt.Errorf("no data"),
		}
	}

	res := body.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	out := make([]candle.Candle, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue // bar without trades
		}
		vol := decimal.Zero
		if vv := at(quote.Volume, i); vv != nil {
			vol = decimal.NewFromFloat(*vv)
		}
		out = append(out, candle.Candle{
			Symbol:   q.Symbol,
			Start:    time.Unix(ts, 0).UTC(),
			Interval: q.Bar,
			Open:     decimal.NewFromFloat(*o),
			High:     decimal.NewFromFloat(*h),
			Low:      decimal.NewFromFloat(*l),
			Close:    decimal.NewFromFloat(*cl),
			Volume:   vol,
			Complete: true,
		})
	}
	return out, nil
}

func at(xs []*float64, i int) *float64 {
	if i >= len(xs) {
		return nil
	}
	return xs[i]
}
