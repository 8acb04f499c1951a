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
)

var (
	providerFlag = &cli.StringFlag{
		Name:    "provider",
		Usage:   "live trade source: finnhub, binance, bybit or okx",
		Value:   "finnhub",
		EnvVars: []string{"PROVIDER"},
	}
	tokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "finnhub API key",
		EnvVars: []string{"FINNHUB_API_KEY"},
	}
	symbolFlag = &cli.StringFlag{
		Name:    "symbol",
		Usage:   "open this symbol's chart on start instead of the landing screen",
		EnvVars: []string{"SYMBOL"},
	}
	intervalFlag = &cli.StringFlag{
		Name:    "interval",
		Usage:   "initial live candle interval (1m, 5m, 15m, 30m, 1h)",
		Value:   "1m",
		EnvVars: []string{"INTERVAL"},
	}
	timeframeFlag = &cli.StringFlag{
		Name:    "timeframe",
		Usage:   "initial historical timeframe (1D, 1W, 1M, 3M, 1Y)",
		Value:   "1D",
		EnvVars: []string{"TIMEFRAME"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "zerolog level",
		Value:   "info",
		EnvVars: []string{"LOG_LEVEL"},
	}
	logFileFlag = &cli.PathFlag{
		Name:    "log-file",
		Usage:   "log destination; the terminal is owned by the UI",
		Value:   "livecandles.log",
		EnvVars: []string{"LOG_FILE"},
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
	providerFlag,
	tokenFlag,
	symbolFlag,
	intervalFlag,
	timeframeFlag,
	logLevelFlag,
	logFileFlag,
	backoffMinFlag,
	backoffMaxFlag,
}

var popular = map[string][]string{
	"finnhub": {"AAPL", "MSFT", "NVDA", "TSLA", "AMZN", "GOOGL", "META", "SPY"},
	"binance": {"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT"},
	"bybit":   {"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT"},
	"okx":     {"BTC-USDT", "ETH-USDT", "SOL-USDT", "XRP-USDT", "DOGE-USDT"},
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
