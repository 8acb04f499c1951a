package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/model/candle"
)

const (
	baseURL   = "https://api.bybit.com"
	klinePath = "/v5/market/kline"
	maxLimit  = 1000

	retInvalidSymbol = 10001
	retRateLimited   = 10006
)

// Bybit uses plain minute numbers for sub-day intervals.
var barIntervals = map[time.Duration]string{
	time.Minute:        "1",
	5 * time.Minute:    "5",
	15 * time.Minute:   "15",
	30 * time.Minute:   "30",
	time.Hour:          "60",
	4 * time.Hour:      "240",
	24 * time.Hour:     "D",
	7 * 24 * time.Hour: "W",
}

// Candles requests historical klines from the Bybit REST API,
// paginating automatically until the full [From, To] range is covered.
//
// Bybit returns candles newest-first; pages walk backwards from To and
// the result is reversed to chronological order.
func (a *Adapter) Candles(ctx context.Context, q adapter.Query) ([]candle.Candle, error) {
	interval, ok := barIntervals[q.Bar]
	if !ok {
		return nil, &adapter.FetchError{
			Kind:     adapter.FetchBadResponse,
			Provider: name,
			Symbol:   q.Symbol,
			Err:      fmt.Errorf("unsupported bar %v", q.Bar),
		}
	}

	startMs, end := q.From.UnixMilli(), q.To.UnixMilli()
	var all []candle.Candle
	for {
		batch, err := a.fetchBatch(ctx, q.Symbol, interval, q.Bar, startMs, end)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < maxLimit {
			break
		}

		// batch is newest-first, so the oldest start is at the end.
		end = all[len(all)-1].Key() - 1
		if end < startMs {
			break
		}
	}

	slices.Reverse(all)
	return adapter.DropForming(all, q.To), nil
}

// fetchBatch fetches a single page from the Bybit kline endpoint.
func (a *Adapter) fetchBatch(ctx context.Context, symbol, interval string, bar time.Duration, startMs, endMs int64) ([]candle.Candle, error) {
	u, err := url.Parse(a.restURL + klinePath)
	if err != nil {
		return nil, fmt.Errorf("bybit: parse url: %w", err)
	}

	q := u.Query()
	q.Set("category", a.category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(startMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(maxLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("bybit: build request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchNetwork, Provider: name, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, adapter.StatusError(name, symbol, resp)
	}

	// Bybit V5 envelope
	var envelope struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: symbol, Err: err}
	}
	if envelope.RetCode != 0 {
		kind := adapter.FetchBadResponse
		switch envelope.RetCode {
		case retInvalidSymbol:
			kind = adapter.FetchUnknownSymbol
		case retRateLimited:
			kind = adapter.FetchRateLimited
		}
		return nil, &adapter.FetchError{
			Kind:     kind,
			Provider: name,
			Symbol:   symbol,
			Err:      fmt.Errorf("api error %d: %s", envelope.RetCode, envelope.RetMsg),
		}
	}

	out, err := parseKlines(symbol, bar, envelope.Result.List)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: symbol, Err: err}
	}
	return out, nil
}

// parseKlines converts the Bybit wire format into candle.Candle values.
//
// Bybit kline array layout:
//
//	[0] startTime  (ms)
//	[1] openPrice
//	[2] highPrice
//	[3] lowPrice
//	[4] closePrice
//	[5] volume     (base coin)
//	[6] turnover   (quote coin), unused
func parseKlines(symbol string, bar time.Duration, rows [][]string) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(rows))
	for i, r := range rows {
		if len(r) < 6 {
			return nil, fmt.Errorf("kline[%d] has %d fields, want ≥6", i, len(r))
		}

		openTime, err := strconv.ParseInt(r[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("kline[%d] open_time: %w", i, err)
		}

		var ohlcv [5]decimal.Decimal
		for j := range ohlcv {
			if ohlcv[j], err = decimal.NewFromString(r[j+1]); err != nil {
				return nil, fmt.Errorf("kline[%d] field %d: %w", i, j+1, err)
			}
		}

		out = append(out, candle.Candle{
			Symbol:   symbol,
			Start:    time.UnixMilli(openTime).UTC(),
			Interval: bar,
			Open:     ohlcv[0],
			High:     ohlcv[1],
			Low:      ohlcv[2],
			Close:    ohlcv[3],
			Volume:   ohlcv[4],
			Complete: true,
		})
	}
	return out, nil
}
