package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/feed"
	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/session"
	"github.com/yitech/livecandles/stream"
)

const pollEvery = 100 * time.Millisecond

// relay runs one live candle session and publishes its updates.
type relay struct {
	symbol   string
	interval candle.Interval
	ctrl     *session.Controller
	log      zerolog.Logger
}

func newRelays(cfg config, conn *stream.Connector, history adapter.History) []*relay {
	relays := make([]*relay, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		l := log.With().Str("component", "relay").Str("symbol", sym).Logger()
		relays = append(relays, &relay{
			symbol:   sym,
			interval: cfg.Interval,
			ctrl: session.NewController(session.Config{
				Connect: session.ConnectWith(conn),
				History: history,
				Logger:  &l,
			}),
			log: l,
		})
	}
	return relays
}

func startRelays(lc fx.Lifecycle, relays []*relay, hub *feed.Hub) {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			for _, r := range relays {
				wg.Add(1)
				go func(r *relay) {
					defer wg.Done()
					r.run(ctx, hub)
				}(r)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func (r *relay) run(ctx context.Context, hub *feed.Hub) {
	defer r.ctrl.Close()

	for _, in := range []session.Input{
		session.SelectSymbol{Symbol: r.symbol},
		session.EnterLive{Mode: session.ModeCandles, Interval: r.interval},
	} {
		if err := r.ctrl.Handle(ctx, in); err != nil {
			r.log.Error().Err(err).Msg("cannot start live session")
			return
		}
	}
	r.log.Info().Str("interval", r.interval.String()).Msg("relay started")

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("relay stopped")
			return
		case <-ticker.C:
			res := r.ctrl.Poll()
			if res.Fetched {
				// A completed seed replaces the whole live series.
				for _, c := range r.ctrl.View().Live.Candles() {
					hub.Publish(c)
				}
			}
			for _, c := range res.Updates {
				hub.Publish(c)
			}
			if res.Closed {
				r.log.Warn().Msg("live stream closed")
				return
			}
		}
	}
}
