package feed

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/yitech/livecandles/model/candle"
)

var t0 = time.Unix(1_700_000_040, 0).UTC()

func bar(sym string, min int, price string, complete bool) candle.Candle {
	p := decimal.RequireFromString(price)
	return candle.Candle{
		Symbol: sym, Start: t0.Add(time.Duration(min) * time.Minute), Interval: time.Minute,
		Open: p, High: p, Low: p, Close: p, Volume: decimal.RequireFromString("1.5"),
		Trades: 3, Complete: complete,
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe("aapl")
	_, other := h.Subscribe("MSFT")
	assert.Equal(t, 2, h.Listeners())

	h.Publish(bar("AAPL", 0, "10", false))
	h.Publish(bar("AAPL", 0, "11", false))
	h.Publish(bar("AAPL", 1, "12", false))

	require.Len(t, ch, 3)
	assert.Empty(t, other)

	recent := h.Recent("AAPL")
	require.Len(t, recent, 2, "same start replaces")
	assert.Equal(t, "11", recent[0].Close.String())

	h.Unsubscribe(id)
	h.Unsubscribe(id)
	for range ch {
	}
	assert.Equal(t, 1, h.Listeners())
}

func TestHubSlowListener(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe("AAPL")
	for i := 0; i < listenerBuffer+10; i++ {
		h.Publish(bar("AAPL", i, "1", true))
	}
	assert.Len(t, ch, listenerBuffer)
	assert.Equal(t, 10, h.Dropped())
	assert.Len(t, h.Recent("AAPL"), replayDepth)
}

func TestHubRecentOrdered(t *testing.T) {
	h := NewHub()
	h.Publish(bar("AAPL", 5, "15", false))
	for i := 0; i < 5; i++ {
		h.Publish(bar("AAPL", i, "10", true))
	}
	h.Publish(bar("AAPL", 5, "16", false))

	recent := h.Recent("AAPL")
	require.Len(t, recent, 6)
	for i := 1; i < len(recent); i++ {
		assert.True(t, recent[i-1].Start.Before(recent[i].Start))
	}
	assert.Equal(t, "16", recent[5].Close.String())
}

func TestEncodeDecode(t *testing.T) {
	c := bar("BTCUSDT", 3, "43210.123456789", true)
	got, err := Decode(Encode(c))
	require.NoError(t, err)
	assert.True(t, c.Start.Equal(got.Start))
	assert.Equal(t, c.Interval, got.Interval)
	assert.True(t, c.Close.Equal(got.Close))
	assert.Equal(t, "43210.123456789", got.Close.String())
	assert.Equal(t, 3, got.Trades)
	assert.True(t, got.Complete)
}

func dialBuf(t *testing.T, hub *Hub) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	Register(s, hub)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWatch(t *testing.T) {
	hub := NewHub()
	hub.Publish(bar("AAPL", 0, "100", true))
	conn := dialBuf(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan candle.Candle, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, conn, "AAPL", func(c candle.Candle) { got <- c })
	}()

	first := <-got
	assert.Equal(t, "100", first.Close.String(), "replayed")

	require.Eventually(t, func() bool { return hub.Listeners() == 1 }, time.Second, 5*time.Millisecond)
	hub.Publish(bar("AAPL", 1, "101", false))
	hub.Publish(bar("MSFT", 1, "5", false))

	second := <-got
	assert.Equal(t, "101", second.Close.String())
	assert.False(t, second.Complete)

	cancel()
	err := <-done
	assert.Equal(t, codes.Canceled, status.Code(err))
	require.Eventually(t, func() bool { return hub.Listeners() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWatchRequiresSymbol(t *testing.T) {
	conn := dialBuf(t, NewHub())
	err := Watch(context.Background(), conn, "", func(candle.Candle) {})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
