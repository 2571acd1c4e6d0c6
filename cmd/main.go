// Command arbiter runs the decision-orchestration core for an ensemble of
// trading strategy agents. It supports Binance, Bybit and a paper venue and
// can be configured via a YAML file, CLI flags, or the interactive wizard:
//
//	arbiter setup
//	arbiter --config config.yaml
//	arbiter --venue paper
//
// Required environment variables:
//
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbiterhq/arbiter/config"
	"github.com/arbiterhq/arbiter/internal"
	"github.com/arbiterhq/arbiter/internal/clients"
	"github.com/arbiterhq/arbiter/internal/setup"
	"github.com/arbiterhq/arbiter/internal/web"
)

func main() {
	// .env is optional, real env vars win
	_ = godotenv.Load()

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		os.Args = []string{os.Args[0], "--config", "config.gen.yaml"}
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var client any
	switch cfg.Venue {
	case "binance":
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			logger.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		client = clients.NewBinanceClient(apiKey, apiSecret)
	case "bybit":
		apiKey := os.Getenv("BYBIT_API_KEY")
		apiSecret := os.Getenv("BYBIT_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			logger.Fatal("BYBIT_API_KEY and BYBIT_API_SECRET environment variables must be set")
		}
		client = clients.NewBybitClient(apiKey, apiSecret)
	case "paper":
		client = nil
	}

	core, err := internal.NewCore(cfg, client, logger)
	if err != nil {
		logger.Fatal("failed to create orchestration core", zap.Error(err))
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(ctx) })

	if cfg.StatusAddr != "" {
		server := web.NewServer(cfg.StatusAddr, core.Journal(), core.Reporter())
		g.Go(func() error { return server.Start(ctx) })
		logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("core stopped with error", zap.Error(err))
	}
}
