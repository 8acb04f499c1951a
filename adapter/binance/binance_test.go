package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/livecandles/adapter"
)

func TestControlFrames(t *testing.T) {
	a := New()
	b, err := a.SubscribeFrame("BTCUSDT", 4)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"SUBSCRIBE","params":["btcusdt@trade"],"id":4}`, string(b))

	b, err = a.UnsubscribeFrame("BTCUSDT", 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"UNSUBSCRIBE","params":["btcusdt@trade"],"id":5}`, string(b))
}

func TestDecodeTrade(t *testing.T) {
	raw := []byte(`{"e":"trade","E":1700000000200,"s":"BTCUSDT","t":42,"p":"37000.50","q":"0.012","T":1700000000100,"m":true,"M":true}`)
	f, err := New().Decode(raw)
	require.NoError(t, err)
	require.Equal(t, adapter.FrameTrades, f.Kind)
	require.Len(t, f.Trades, 1)
	tr := f.Trades[0]
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, "37000.5", tr.Price.String())
	assert.Equal(t, "0.012", tr.Size.String())
	assert.Equal(t, int64(1700000000100), tr.Time.UnixMilli())
}

func TestDecodeTradeCaseSensitiveKeys(t *testing.T) {
	// "T" before "t" and "M" after "m": neither may land in the other's field.
	raw := []byte(`{"E":1700000000999,"e":"trade","T":1700000000100,"t":42,"s":"ETHUSDT","p":"2000","q":"1","m":false,"M":true}`)
	f, err := New().Decode(raw)
	require.NoError(t, err)
	require.Len(t, f.Trades, 1)
	assert.Equal(t, int64(1700000000100), f.Trades[0].Time.UnixMilli())
	assert.Equal(t, "ETHUSDT", f.Trades[0].Symbol)
}

func TestDecodeAck(t *testing.T) {
	f, err := New().Decode([]byte(`{"result":null,"id":12}`))
	require.NoError(t, err)
	assert.Equal(t, adapter.FrameAck, f.Kind)
	assert.Equal(t, uint64(12), f.AckID)

	f, err = New().Decode([]byte(`{"error":{"code":2,"msg":"Invalid request"},"id":13}`))
	require.NoError(t, err)
	assert.Equal(t, adapter.FrameNotice, f.Kind)
	assert.Equal(t, uint64(13), f.AckID)
	assert.Contains(t, f.Notice, "Invalid request")
}

func TestDecodeMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":     `{{`,
		"kline event": `{"e":"kline","s":"BTCUSDT"}`,
		"no symbol":   `{"e":"trade","p":"1","q":"1","T":1}`,
		"no time":     `{"e":"trade","s":"X","p":"1","q":"1"}`,
		"bad price":   `{"e":"trade","s":"X","p":"0","q":"1","T":1}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New().Decode([]byte(raw))
			var de *adapter.DecodeError
			assert.True(t, errors.As(err, &de), "got %v", err)
		})
	}
}

func TestCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinePath, r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`[
			[60000,"10.0","12.0","9.5","11.0","3.5",119999,"0",7,"0","0","0"],
			[120000,"11.0","11.5","10.5","10.75","1.25",179999,"0",2,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	a := New().WithURLs("", srv.URL)
	got, err := a.Candles(context.Background(), adapter.Query{
		Symbol: "BTCUSDT",
		Bar:    time.Minute,
		From:   time.UnixMilli(0),
		To:     time.UnixMilli(180_000),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	c := got[0]
	assert.Equal(t, int64(60_000), c.Key())
	assert.Equal(t, time.Minute, c.Interval)
	assert.Equal(t, "12", c.High.String())
	assert.Equal(t, "3.5", c.Volume.String())
	assert.Equal(t, 7, c.Trades)
	assert.True(t, c.Complete)
	require.NoError(t, c.Validate())
}

func TestCandlesDropsFormingKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			[60000,"10.0","12.0","9.5","11.0","3.5",119999,"0",7,"0","0","0"],
			[120000,"11.0","11.5","10.5","10.75","1.25",179999,"0",2,"0","0","0"],
			[180000,"10.75","10.8","10.7","10.8","0.5",239999,"0",1,"0","0","0"]
		]`))
	}))
	defer srv.Close()

	got, err := New().WithURLs("", srv.URL).Candles(context.Background(), adapter.Query{
		Symbol: "BTCUSDT",
		Bar:    time.Minute,
		From:   time.UnixMilli(0),
		To:     time.UnixMilli(200_000),
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(120_000), got[1].Key())
}

func TestCandlesErrors(t *testing.T) {
	cases := map[string]struct {
		status int
		kind   adapter.FetchErrorKind
	}{
		"rate limited":   {http.StatusTooManyRequests, adapter.FetchRateLimited},
		"unknown symbol": {http.StatusBadRequest, adapter.FetchUnknownSymbol},
		"server error":   {http.StatusInternalServerError, adapter.FetchBadResponse},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := New().WithURLs("", srv.URL).Candles(context.Background(), adapter.Query{
				Symbol: "NOPE", Bar: time.Minute, From: time.UnixMilli(0), To: time.UnixMilli(1),
			})
			var fe *adapter.FetchError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tc.kind, fe.Kind)
		})
	}
}

func TestCandlesUnsupportedBar(t *testing.T) {
	_, err := New().Candles(context.Background(), adapter.Query{Symbol: "X", Bar: 7 * time.Minute})
	var fe *adapter.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, adapter.FetchBadResponse, fe.Kind)
}
