package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/feed"
	"github.com/yitech/livecandles/stream"
)

func main() {
	app := &cli.App{
		Name:   "livecandles-srv",
		Usage:  "relay live candles to gRPC watchers",
		Before: setupLogger,
		Flags:  globalFlags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("exit")
	}
}

func setupLogger(c *cli.Context) error {
	lvl, err := zerolog.ParseLevel(c.String(logLevelFlag.Name))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newProvider,
			newConnector,
			feed.NewHub,
			newGRPCServer,
			newRelays,
		),
		fx.Invoke(serve, startRelays),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	ctx, cancel := context.WithTimeout(c.Context, 15*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}

	sig := <-app.Wait()
	log.Info().Str("signal", fmt.Sprint(sig.Signal)).Msg("initiating graceful shutdown")

	stopCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return app.Stop(stopCtx)
}

type sources struct {
	fx.Out

	Provider adapter.Provider
	History  adapter.History
}

func newProvider(cfg config) (sources, error) {
	p, h, err := buildProvider(cfg.Provider, cfg.Token)
	return sources{Provider: p, History: h}, err
}

func newConnector(cfg config, p adapter.Provider) *stream.Connector {
	return stream.New(stream.Config{
		Provider:   p,
		Logger:     &log.Logger,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
	})
}

func newGRPCServer(hub *feed.Hub) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			MaxConnectionAge:  30 * time.Minute,
			Time:              20 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	feed.Register(s, hub)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	return s, hs
}

func serve(lc fx.Lifecycle, cfg config, s *grpc.Server, hs *health.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
			go func() {
				if err := s.Serve(lis); err != nil {
					log.Error().Err(err).Msg("grpc serve")
				}
			}()
			log.Info().Str("listen", cfg.Listen).Strs("symbols", cfg.Symbols).Msg("server starting")
			return nil
		},
		OnStop: func(context.Context) error {
			hs.Shutdown()
			s.GracefulStop()
			return nil
		},
	})
}
