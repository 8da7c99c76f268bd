package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/sonoral/internal/app"
	"github.com/dharsanguruparan/sonoral/internal/config"
	"github.com/dharsanguruparan/sonoral/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init app", zap.Error(err))
	}
	defer a.Close()

	if err := a.RunWorker(ctx); err != nil {
		log.Error("worker stopped", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}
