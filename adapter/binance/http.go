package binance

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
	baseURL   = "https://api.binance.com"
	klinePath = "/api/v3/klines"
	maxLimit  = 1000
)

var barIntervals = map[time.Duration]string{
	time.Minute:        "1m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1h",
	4 * time.Hour:      "4h",
	24 * time.Hour:     "1d",
	7 * 24 * time.Hour: "1w",
}

// Candles requests historical klines from the Binance REST API,
// paginating automatically until the full [From, To] range is covered.
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

	startMs, endMs := q.From.UnixMilli(), q.To.UnixMilli()
	var out []candle.Candle
	for {
		batch, err := a.fetchBatch(ctx, q.Symbol, interval, q.Bar, startMs, endMs)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)

		// Fewer than maxLimit means we've reached the end of the range.
		if len(batch) < maxLimit {
			break
		}

		// Advance start to just after the last candle's open time.
		startMs = batch[len(batch)-1].Key() + 1
		if startMs > endMs {
			break
		}
	}
	return adapter.DropForming(out, q.To), nil
}

// fetchBatch fetches a single page (up to maxLimit candles) from the API.
func (a *Adapter) fetchBatch(ctx context.Context, symbol, interval string, bar time.Duration, startMs, endMs int64) ([]candle.Candle, error) {
	u, err := url.Parse(a.restURL + klinePath)
	if err != nil {
		return nil, fmt.Errorf("binance: parse url: %w", err)
	}

	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(maxLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchNetwork, Provider: name, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, adapter.StatusError(name, symbol, resp)
	}

	// Each kline is a JSON array. Binance returns [][]json.RawMessage.
	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: symbol, Err: err}
	}

	out, err := parseKlines(symbol, bar, raw)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: symbol, Err: err}
	}
	return out, nil
}

// parseKlines converts the raw Binance wire format into candle.Candle values.
//
// Binance kline array layout:
//
//	[0]  Open time       (int64, Unix ms)
//	[1]  Open            (string)
//	[2]  High            (string)
//	[3]  Low             (string)
//	[4]  Close           (string)
//	[5]  Volume          (string, base asset)
//	[6]  Close time      (int64, Unix ms)
//	[7]  Quote volume    (string)  unused
//	[8]  Trade count     (int64)
//	[9]  Taker buy base  (string)  unused
//	[10] Taker buy quote (string)  unused
//	[11] Ignore          (string)
func parseKlines(symbol string, bar time.Duration, raw [][]json.RawMessage) ([]candle.Candle, error) {
	out := make([]candle.Candle, 0, len(raw))
	for i, r := range raw {
		if len(r) < 9 {
			return nil, fmt.Errorf("kline[%d] has %d fields, want ≥9", i, len(r))
		}

		var openTime int64
		if err := json.Unmarshal(r[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline[%d] open_time: %w", i, err)
		}
		var trades int
		if err := json.Unmarshal(r[8], &trades); err != nil {
			return nil, fmt.Errorf("kline[%d] trade_count: %w", i, err)
		}

		var ohlcv [5]decimal.Decimal
		for j := range ohlcv {
			if err := ohlcv[j].UnmarshalJSON(r[j+1]); err != nil {
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
			Trades:   trades,
			Complete: true, // historical candles are always closed
		})
	}
	return out, nil
}
