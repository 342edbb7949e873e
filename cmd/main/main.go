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
	"market-relay/src/data_source/bybit"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"
	"market-relay/src/network"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file (optional)")
	envPath := flag.String("env", "", "path to .env file (defaults to ./.env)")
	flag.Parse()

	// Load config: YAML, then .env and the environment
	conf, err := config.NewConfigWithEnv(*configPath, *envPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	appLogger := logger.NewLogger(conf, conf.Name)
	defer appLogger.Sync()

	// Money goes over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	// 1. Upstream: REST bootstrap and the stream connector
	var networkManager interfaces.INetworkManager = network.NewAsyncNetworkManager(conf.MConfig, appLogger.Named("NetworkManager"))
	bootstrap := bybit.NewKlineBootstrapper(conf.MConfig, networkManager, appLogger.Named("Bootstrap"))
	connectorLogger := appLogger.Named("Connector")

	// 2. Wire components
	relay, err := app.New(conf, appLogger, bootstrap, func(handler func(models.MRawMessage)) interfaces.IFeedSource {
		return bybit.NewConnector(conf.MConfig, handler, connectorLogger)
	})
	if err != nil {
		appLogger.Critical("Failed to set up relay: %v", err)
	}

	// 3. Start
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := relay.Start(ctx); err != nil {
		appLogger.Critical("Failed to start relay: %v", err)
	}

	// 4. Wait for a signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := relay.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Shutdown: %v", err)
	}
	cancel()
}
