package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yitech/livecandles/adapter"
	"github.com/yitech/livecandles/adapter/binance"
	"github.com/yitech/livecandles/adapter/bybit"
	"github.com/yitech/livecandles/adapter/finnhub"
	"github.com/yitech/livecandles/adapter/okx"
	"github.com/yitech/livecandles/adapter/yahoo"
	"github.com/yitech/livecandles/model/candle"
)

var (
	listenFlag = &cli.StringFlag{
		Name:    "listen",
		Usage:   "gRPC listen address",
		Value:   ":50051",
		EnvVars: []string{"LISTEN_ADDR"},
	}
	providerFlag = &cli.StringFlag{
		Name:    "provider",
		Usage:   "live trade source: finnhub, binance, bybit or okx",
		Value:   "binance",
		EnvVars: []string{"PROVIDER"},
	}
	tokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "finnhub API key",
		EnvVars: []string{"FINNHUB_API_KEY"},
	}
	symbolsFlag = &cli.StringSliceFlag{
		Name:    "symbol",
		Usage:   "symbol to relay, repeatable",
		Value:   cli.NewStringSlice("BTCUSDT"),
		EnvVars: []string{"SYMBOLS"},
	}
	intervalFlag = &cli.StringFlag{
		Name:    "interval",
		Usage:   "live candle interval (1m, 5m, 15m, 30m, 1h)",
		Value:   "1m",
		EnvVars: []string{"INTERVAL"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "zerolog level",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	}
	backoffMinFlag = &cli.DurationFlag{
		Name:    "backoff-min",
		Usage:   "first reconnect delay",
		Value:   time.Second,
		EnvVars: []string{"BACKOFF_MIN"},
	}
	backoffMaxFlag = &cli.DurationFlag{
		Name:    "backoff-max",
		Usage:   "reconnect delay cap",
		Value:   30 * time.Second,
		EnvVars: []string{"BACKOFF_MAX"},
	}
)

var globalFlags = []cli.Flag{
	listenFlag,
	providerFlag,
	tokenFlag,
	symbolsFlag,
	intervalFlag,
	logLevelFlag,
	backoffMinFlag,
	backoffMaxFlag,
}

type config struct {
	Listen     string
	Provider   string
	Token      string
	Symbols    []string
	Interval   candle.Interval
	BackoffMin time.Duration
	BackoffMax time.Duration
}

func loadConfig(c *cli.Context) (config, error) {
	cfg := config{
		Listen:     c.String(listenFlag.Name),
		Provider:   c.String(providerFlag.Name),
		Token:      c.String(tokenFlag.Name),
		Symbols:    c.StringSlice(symbolsFlag.Name),
		BackoffMin: c.Duration(backoffMinFlag.Name),
		BackoffMax: c.Duration(backoffMaxFlag.Name),
	}
	if cfg.Listen == "" {
		return cfg, fmt.Errorf("listen address cannot be empty")
	}
	if len(cfg.Symbols) == 0 {
		return cfg, fmt.Errorf("at least one symbol is required")
	}
	iv, err := candle.ParseInterval(c.String(intervalFlag.Name))
	if err != nil {
		return cfg, err
	}
	cfg.Interval = iv
	return cfg, nil
}

// buildProvider pairs a live trade source with the history client that
// serves its symbols.
func buildProvider(name, token string) (adapter.Provider, adapter.History, error) {
	switch name {
	case "finnhub":
		return finnhub.New(token), yahoo.New(), nil
	case "binance":
		b := binance.New()
		return b, b, nil
	case "bybit":
		b := bybit.New()
		return b, b, nil
	case "okx":
		o := okx.New()
		return o, o, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", name)
}
