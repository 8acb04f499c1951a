package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yitech/livecandles/model/candle"
)

const (
	serviceName = "livecandles.feed.v1.CandleFeed"
	watchMethod = "/" + serviceName + "/Watch"
)

// WatchServer is implemented by the relay service.
type WatchServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WatchServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Watch",
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "feed",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(WatchServer).Watch(req, stream)
}

type server struct {
	hub *Hub
}

// Register installs the relay service for hub on s.
func Register(s grpc.ServiceRegistrar, hub *Hub) {
	s.RegisterService(&serviceDesc, &server{hub: hub})
}

// Watch streams the recent updates for the requested symbol and then
// every new one until the client goes away.
func (s *server) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	symbol := req.GetFields()["symbol"].GetStringValue()
	if symbol == "" {
		return status.Error(codes.InvalidArgument, "symbol is required")
	}
	logger := log.With().Str("component", "feed").Str("symbol", symbol).Logger()
	logger.Info().Msg("watcher connected")

	id, ch := s.hub.Subscribe(symbol)
	defer s.hub.Unsubscribe(id)

	for _, c := range s.hub.Recent(symbol) {
		if err := stream.SendMsg(Encode(c)); err != nil {
			return err
		}
	}

	for {
		select {
		case <-stream.Context().Done():
			logger.Info().Msg("watcher disconnected")
			return stream.Context().Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(Encode(c)); err != nil {
				return err
			}
		}
	}
}

// Watch subscribes to symbol on a relay and calls fn for every update
// until ctx is done or the stream ends.
func Watch(ctx context.Context, conn grpc.ClientConnInterface, symbol string, fn func(candle.Candle)) error {
	cs, err := conn.NewStream(ctx, &serviceDesc.Streams[0], watchMethod)
	if err != nil {
		return fmt.Errorf("feed: open stream: %w", err)
	}
	req, err := structpb.NewStruct(map[string]any{"symbol": symbol})
	if err != nil {
		return fmt.Errorf("feed: request: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return fmt.Errorf("feed: send: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return fmt.Errorf("feed: close send: %w", err)
	}
	for {
		m := new(structpb.Struct)
		if err := cs.RecvMsg(m); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		c, err := Decode(m)
		if err != nil {
			return err
		}
		fn(c)
	}
}

// Encode converts c to its wire form. Prices travel as decimal strings.
func Encode(c candle.Candle) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"symbol":      structpb.NewStringValue(c.Symbol),
		"start":       structpb.NewNumberValue(float64(c.Start.UnixMilli())),
		"interval_ms": structpb.NewNumberValue(float64(c.Interval.Milliseconds())),
		"open":        structpb.NewStringValue(c.Open.String()),
		"high":        structpb.NewStringValue(c.High.String()),
		"low":         structpb.NewStringValue(c.Low.String()),
		"close":       structpb.NewStringValue(c.Close.String()),
		"volume":      structpb.NewStringValue(c.Volume.String()),
		"trades":      structpb.NewNumberValue(float64(c.Trades)),
		"complete":    structpb.NewBoolValue(c.Complete),
	}}
}

// Decode is the inverse of Encode.
func Decode(m *structpb.Struct) (candle.Candle, error) {
	f := m.GetFields()
	num := func(k string) float64 { return f[k].GetNumberValue() }
	dec := func(k string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(f[k].GetStringValue())
		if err != nil {
			return decimal.Zero, fmt.Errorf("feed: decode %s: %w", k, err)
		}
		return d, nil
	}

	c := candle.Candle{
		Symbol:   f["symbol"].GetStringValue(),
		Start:    time.UnixMilli(int64(num("start"))).UTC(),
		Interval: time.Duration(num("interval_ms")) * time.Millisecond,
		Trades:   int(num("trades")),
		Complete: f["complete"].GetBoolValue(),
	}
	var err error
	for _, p := range []struct {
		key string
		dst *decimal.Decimal
	}{{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}, {"volume", &c.Volume}} {
		if *p.dst, err = dec(p.key); err != nil {
			return candle.Candle{}, err
		}
	}
	return c, nil
}
