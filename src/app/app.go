package app

import (
	"context"
	"errors"
	"fmt"

	"market-relay/src/config"
	datasource "market-relay/src/data_source"
	"market-relay/src/grpc_control"
	"market-relay/src/interfaces"
	"market-relay/src/ledger"
	"market-relay/src/logger"
	"market-relay/src/market"
	"market-relay/src/models"
	"market-relay/src/server"
	"market-relay/src/storage"

	"google.golang.org/grpc"
)

// SourceFactory builds the upstream stream around the frame handler.
type SourceFactory func(handler func(models.MRawMessage)) interfaces.IFeedSource

// -----------------------------------------------------------------------------
// App
// -----------------------------------------------------------------------------

// App is the wired relay: market state, ledger, hub, feed, sweep, journal and
// the control service.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Market  *market.Normalizer
	Ledger  *ledger.TradingLedger
	Server  *server.RelayServer
	Feed    *datasource.FeedManager
	Sweeper *ledger.Sweeper
	Journal *storage.Journal

	grpcServer *grpc.Server
}

// -----------------------------------------------------------------------------

func New(cfg *config.Config, log *logger.Logger, bootstrap interfaces.ICandleBootstrapper, source SourceFactory) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	// 1. Market state and ledger
	a.Market = market.NewNormalizer(cfg.MConfig, nil, log.Named("Market"))
	a.Ledger = ledger.NewTradingLedger(ledger.LimitsFromConfig(cfg.MConfig), a.Market, log.Named("Ledger"))

	// 2. Hub
	a.Server = server.NewRelayServer(cfg.MConfig, a.Ledger, a.Market, log.Named("Server"))
	a.Market.SetSink(a.Server)
	a.Ledger.AddSink(a.Server)

	// 3. Journal
	if cfg.Storage.Enabled {
		journal, err := setupJournal(cfg.MConfig, log)
		if err != nil {
			return nil, err
		}
		a.Journal = journal
		a.Ledger.AddSink(journal)
		a.Market.OnCandleClosed(journal.RecordCandle)
	}

	// 4. Feed
	a.Feed = datasource.NewFeedManager(a.Market, bootstrap, log.Named("Feed"))
	if err := a.Feed.SetSource(source(a.Feed.Handle)); err != nil {
		return nil, err
	}
	a.Server.SetFeed(a.Feed)

	// 5. Sweep
	a.Sweeper = ledger.NewSweeper(a.Ledger, a.Market, cfg.Intervals.PnLUpdate(), log.Named("Sweeper"))
	return a, nil
}

// -----------------------------------------------------------------------------

func setupJournal(cfg *models.MConfig, log *logger.Logger) (*storage.Journal, error) {
	dbLogger := log.Named("Journal")
	db, err := storage.NewDatabase(cfg, dbLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	return storage.NewJournal(db, cfg.Feed.Symbol, cfg.Feed.CandleInterval, dbLogger), nil
}

// -----------------------------------------------------------------------------

// Start brings the servers up before the feed, so the first frames already
// have somewhere to go.
func (a *App) Start(ctx context.Context) error {
	// 1. HTTP / WebSocket
	if err := a.Server.Start(); err != nil {
		return err
	}

	// 2. gRPC control
	lis, err := grpc_control.Listen(a.Config.MConfig)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}
	controlLogger := a.Logger.Named("ControlService")
	svc := grpc_control.NewControlService(a.Config.MConfig, a.Ledger, a.Market, a.Feed, a.Server, controlLogger)
	a.grpcServer = grpc_control.Serve(lis, svc, controlLogger)

	// 3. Sweep and feed
	a.Sweeper.Start(ctx)
	if err := a.Feed.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info("Relay started for %s", a.Config.Feed.Symbol)
	return nil
}

// -----------------------------------------------------------------------------

// Shutdown stops timers first and storage last.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	a.Sweeper.Stop()
	if err := a.Feed.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("feed: %w", err))
	}
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}

	a.Logger.Info("Shutdown complete.")
	return errors.Join(errs...)
}
