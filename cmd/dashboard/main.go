package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bivalvia/sensor-relay/internal/config"
	"github.com/bivalvia/sensor-relay/internal/dashboard"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadDashboard(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// Cards own stdout; logs go to stderr.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	clientCfg := cfg.ClientConfig()
	clientCfg.Logger = log
	transport, err := dashboard.NewTransport(cfg.Mode, clientCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c, ok := transport.(*dashboard.Client); ok {
		context.AfterFunc(ctx, c.Disconnect)
	}

	board := dashboard.NewTermBoard(os.Stdout)
	ctrl := dashboard.NewController(transport, board, dashboard.WithControllerLogger(log))

	log.Info("Dashboard starting", "url", cfg.BaseURL, "sector", cfg.SectorID, "mode", cfg.Mode)
	board.Flush()

	err = ctrl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
