package okx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitech/livecandles/adapter"
)

func TestControlFrames(t *testing.T) {
	a := New()
	b, err := a.SubscribeFrame("btc-usdt", 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","op":"subscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}`, string(b))

	b, err = a.UnsubscribeFrame("BTC-USDT", 8)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"8","op":"unsubscribe","args":[{"channel":"trades","instId":"BTC-USDT"}]}`, string(b))

	assert.Equal(t, "ping", string(a.PingFrame()))
}

func TestDecodeTrades(t *testing.T) {
	raw := []byte(`{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[
		{"instId":"BTC-USDT","tradeId":"130639474","px":"42219.9","sz":"0.12060306","side":"buy","ts":"1630048897897","count":"3"}
	]}`)
	f, err := New().Decode(raw)
	require.NoError(t, err)
	require.Equal(t, adapter.FrameTrades, f.Kind)
	require.Len(t, f.Trades, 1)
	tr := f.Trades[0]
	assert.Equal(t, "BTC-USDT", tr.Symbol)
	assert.Equal(t, "42219.9", tr.Price.String())
	assert.Equal(t, "0.12060306", tr.Size.String())
	assert.Equal(t, int64(1630048897897), tr.Time.UnixMilli())
}

func TestDecodeControl(t *testing.T) {
	f, err := New().Decode([]byte("pong"))
	require.NoError(t, err)
	assert.Equal(t, adapter.FrameHeartbeat, f.Kind)

	f, err = New().Decode([]byte(`{"id":"3","event":"subscribe","arg":{"channel":"trades","instId":"BTC-USDT"},"connId":"a4d3ae55"}`))
	require.NoError(t, err)
	assert.Equal(t, adapter.FrameAck, f.Kind)
	assert.Equal(t, uint64(3), f.AckID)

	f, err = New().Decode([]byte(`{"id":"4","event":"error","code":"60018","msg":"Wrong URL or channel:trades,instId:NOPE doesn't exist."}`))
	require.NoError(t, err)
	assert.Equal(t, adapter.FrameNotice, f.Kind)
	assert.Equal(t, uint64(4), f.AckID)
	assert.Contains(t, f.Notice, "60018")
}

func TestDecodeMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"garbage":       `{{`,
		"other channel": `{"arg":{"channel":"candle1m","instId":"BTC-USDT"},"data":[]}`,
		"empty data":    `{"arg":{"channel":"trades","instId":"BTC-USDT"},"data":[]}`,
		"bad ts":        `{"arg":{"channel":"trades"},"data":[{"instId":"X","px":"1","sz":"1","ts":"soon"}]}`,
		"zero price":    `{"arg":{"channel":"trades"},"data":[{"instId":"X","px":"0","sz":"1","ts":"1"}]}`,
		"unknown event": `{"event":"login","code":"0"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New().Decode([]byte(raw))
			var de *adapter.DecodeError
			assert.True(t, errors.As(err, &de), "got %v", err)
		})
	}
}

func TestCandlesPagination(t *testing.T) {
	// Newest-first pages of maxLimit one-minute candles ending at 300 min.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, klinePath, r.URL.Path)
		assert.Equal(t, "1m", r.URL.Query().Get("bar"))
		after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		require.NoError(t, err)
		calls.Add(1)

		var rows []string
		for ts := after - after%60_000; len(rows) < maxLimit && ts >= 0; ts -= 60_000 {
			if ts >= after {
				continue
			}
			confirm := "1"
			if ts == 300*60_000 {
				confirm = "0"
			}
			rows = append(rows, `["`+strconv.FormatInt(ts, 10)+`","10","11","9","10.5","2","20","20","`+confirm+`"]`)
		}
		body := `{"code":"0","msg":"","data":[`
		for i, row := range rows {
			if i > 0 {
				body += ","
			}
			body += row
		}
		_, _ = w.Write([]byte(body + `]}`))
	}))
	defer srv.Close()

	got, err := New().WithURLs("", srv.URL).Candles(context.Background(), adapter.Query{
		Symbol: "BTC-USDT",
		Bar:    time.Minute,
		From:   time.UnixMilli(150 * 60_000),
		To:     time.UnixMilli(300 * 60_000),
	})
	require.NoError(t, err)
	require.Len(t, got, 150, "open candle dropped, range inclusive of From")
	assert.Equal(t, int64(150*60_000), got[0].Key())
	assert.Equal(t, int64(299*60_000), got[len(got)-1].Key())
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].End(), got[i].Start)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestCandlesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"51001","msg":"Instrument ID does not exist","data":[]}`))
	}))
	defer srv.Close()

	_, err := New().WithURLs("", srv.URL).Candles(context.Background(), adapter.Query{
		Symbol: "NOPE", Bar: time.Minute, From: time.UnixMilli(0), To: time.UnixMilli(1),
	})
	var fe *adapter.FetchError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, adapter.FetchUnknownSymbol, fe.Kind)
}
