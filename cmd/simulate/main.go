package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-relay/src/app"
	"market-relay/src/config"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------

// simulate runs the full relay against a synthetic random-walk feed.
func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file (optional)")
	startPrice := flag.Float64("price", 50000, "starting price")
	volatility := flag.Float64("volatility", 0.0005, "stddev of one tick's relative move")
	tick := flag.Duration("tick", 500*time.Millisecond, "time between ticks")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	// 1. Load config
	conf, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup Logger
	appLogger := logger.NewLogger(conf, conf.Name+"-simulate")
	defer appLogger.Sync()
	decimal.MarshalJSONWithoutQuotes = true

	// 3. Synthetic feed, doubling as the candle bootstrapper
	walk, err := NewRandomWalkFeed(conf.MConfig, WalkOptions{
		StartPrice: *startPrice,
		Volatility: *volatility,
		Tick:       *tick,
		Seed:       *seed,
	}, nil, appLogger.Named("RandomWalk"))
	if err != nil {
		appLogger.Critical("Invalid simulation settings: %v", err)
	}

	relay, err := app.New(conf, appLogger, walk, func(handler func(models.MRawMessage)) interfaces.IFeedSource {
		walk.SetHandler(handler)
		return walk
	})
	if err != nil {
		appLogger.Critical("Failed to set up relay: %v", err)
	}

	// 4. Run until signalled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := relay.Start(ctx); err != nil {
		appLogger.Critical("Failed to start relay: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := relay.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Shutdown: %v", err)
	}
}
