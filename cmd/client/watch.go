package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yitech/livecandles/feed"
	"github.com/yitech/livecandles/model/candle"
)

var relayFlag = &cli.StringFlag{
	Name:    "relay",
	Usage:   "relay server address",
	Value:   "localhost:50051",
	EnvVars: []string{"SERVER_ADDR"},
}

var watchCommand = &cli.Command{
	Name:      "watch",
	Usage:     "print candle updates from a relay server",
	ArgsUsage: "SYMBOL",
	Flags:     []cli.Flag{relayFlag},
	Action:    watch,
}

func watch(c *cli.Context) error {
	symbol := c.Args().First()
	if symbol == "" {
		return fmt.Errorf("watch: symbol argument is required")
	}

	conn, err := grpc.NewClient(c.String(relayFlag.Name), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("watch: create client: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = feed.Watch(ctx, conn, symbol, func(k candle.Candle) {
		state := "live"
		if k.Complete {
			state = "closed"
		}
		fmt.Fprintf(c.App.Writer, "%s %s %s O %s H %s L %s C %s V %s (%d trades) %s\n",
			k.Start.Local().Format("2006-01-02 15:04"), k.Symbol, k.Interval,
			k.Open, k.High, k.Low, k.Close, k.Volume, k.Trades, state)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
