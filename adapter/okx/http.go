package okx

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
	baseURL   = "https://www.okx.com"
	klinePath = "/api/v5/market/history-candles"
	maxLimit  = 100

	codeUnknownInstrument = "51001"
	codeRateLimited       = "50011"
)

// OKX bar names; daily and weekly use the UTC-aligned variants.
var barIntervals = map[time.Duration]string{
	time.Minute:        "1m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1H",
	4 * time.Hour:      "4H",
	24 * time.Hour:     "1Dutc",
	7 * 24 * time.Hour: "1Wutc",
}

// Candles requests historical candles from the OKX REST API.
//
// OKX returns candles newest-first using cursor-based pagination via the
// `after` parameter; the result is reversed to chronological order.
// The still-open candle is left out.
func (a *Adapter) Candles(ctx context.Context, q adapter.Query) ([]candle.Candle, error) {
	bar, ok := barIntervals[q.Bar]
	if !ok {
		return nil, &adapter.FetchError{
			Kind:     adapter.FetchBadResponse,
			Provider: name,
			Symbol:   q.Symbol,
			Err:      fmt.Errorf("unsupported bar %v", q.Bar),
		}
	}

	startMs := q.From.UnixMilli()
	// after=T returns candles with ts < T, so seed with To+1 to include To.
	after := strconv.FormatInt(q.To.UnixMilli()+1, 10)

	var all []candle.Candle
	for {
		batch, err := a.fetchBatch(ctx, q.Symbol, bar, q.Bar, after)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		// Collect candles that fall within the range; stop when we go older.
		done := false
		for _, c := range batch {
			if c.Key() < startMs {
				done = true
				break
			}
			if c.Complete {
				all = append(all, c)
			}
		}
		if done || len(batch) < maxLimit {
			break
		}

		// batch is newest-first, so its oldest start is the next cursor.
		after = strconv.FormatInt(batch[len(batch)-1].Key(), 10)
	}

	slices.Reverse(all)
	return all, nil
}

// fetchBatch fetches a single page from the OKX history-candles endpoint.
func (a *Adapter) fetchBatch(ctx context.Context, instID, bar string, d time.Duration, after string) ([]candle.Candle, error) {
	u, err := url.Parse(a.restURL + klinePath)
	if err != nil {
		return nil, fmt.Errorf("okx: parse url: %w", err)
	}

	q := u.Query()
	q.Set("instId", instID)
	q.Set("bar", bar)
	q.Set("after", after)
	q.Set("limit", strconv.Itoa(maxLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("okx: build request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchNetwork, Provider: name, Symbol: instID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, adapter.StatusError(name, instID, resp)
	}

	// OKX envelope
	var envelope struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: instID, Err: err}
	}
	if envelope.Code != "0" {
		kind := adapter.FetchBadResponse
		switch envelope.Code {
		case codeUnknownInstrument:
			kind = adapter.FetchUnknownSymbol
		case codeRateLimited:
			kind = adapter.FetchRateLimited
		}
		return nil, &adapter.FetchError{
			Kind:     kind,
			Provider: name,
			Symbol:   instID,
			Err:      fmt.Errorf("api error %s: %s", envelope.Code, envelope.Msg),
		}
	}

	out, err := parseKlines(instID, d, envelope.Data)
	if err != nil {
		return nil, &adapter.FetchError{Kind: adapter.FetchBadResponse, Provider: name, Symbol: instID, Err: err}
	}
	return out, nil
}

// parseKlines converts the OKX wire format into candle.Candle values.
//
// OKX kline array layout:
//
//	[0] ts        (open time, ms)
//	[1] o         (open)
//	[2] h         (high)
//	[3] l         (low)
//	[4] c         (close)
//	[5] vol       (base currency volume)
//	[6] volCcy    (quote currency volume), unused
//	[7] volCcyQuote, unused
//	[8] confirm   ("1"=closed, "0"=current)
func parseKlines(instID string, d time.Duration, rows [][]string) ([]candle.Candle, error) {
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
			Symbol:   instID,
			Start:    time.UnixMilli(openTime).UTC(),
			Interval: d,
			Open:     ohlcv[0],
			High:     ohlcv[1],
			Low:      ohlcv[2],
			Close:    ohlcv[3],
			Volume:   ohlcv[4],
			Complete: len(r) <= 8 || r[8] == "1",
		})
	}
	return out, nil
}
