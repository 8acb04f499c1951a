package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/yitech/livecandles/diag"
	"github.com/yitech/livecandles/model/candle"
	"github.com/yitech/livecandles/session"
	"github.com/yitech/livecandles/stream"
)

func main() {
	app := &cli.App{
		Name:     "livecandles",
		Usage:    "live stock and crypto candles in the terminal",
		Flags:    globalFlags,
		Action:   run,
		Commands: []*cli.Command{watchCommand},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, closeLog, err := openLog(c.Path(logFileFlag.Name), c.String(logLevelFlag.Name))
	if err != nil {
		return err
	}
	defer closeLog()

	interval, err := candle.ParseInterval(c.String(intervalFlag.Name))
	if err != nil {
		return err
	}
	timeframe, err := candle.ParseTimeframe(c.String(timeframeFlag.Name))
	if err != nil {
		return err
	}
	name := c.String(providerFlag.Name)
	provider, history, err := buildProvider(name, c.String(tokenFlag.Name))
	if err != nil {
		return err
	}

	connector := stream.New(stream.Config{
		Provider:   provider,
		Logger:     &logger,
		BackoffMin: c.Duration(backoffMinFlag.Name),
		BackoffMax: c.Duration(backoffMaxFlag.Name),
	})
	ctrl := session.NewController(session.Config{
		Connect: session.ConnectWith(connector),
		History: history,
		Diag:    diag.New(diag.Config{}),
		Logger:  &logger,
		Popular: popular[name],
	})
	defer ctrl.Close()

	m := newModel(c.Context, ctrl, timeframe, interval)
	if sym := c.String(symbolFlag.Name); sym != "" {
		m.handle(session.SelectSymbol{Symbol: sym})
	}

	logger.Info().Str("provider", name).Msg("starting")
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func openLog(path, level string) (zerolog.Logger, func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log: %w", err)
	}
	logger := zerolog.New(f).Level(lvl).With().Timestamp().Logger()
	return logger, func() { _ = f.Close() }, nil
}
