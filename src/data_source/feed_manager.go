package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"
)

// IIngester consumes raw upstream messages.
type IIngester interface {
	Ingest(msg models.MRawMessage) error
	SeedCandles(candles []models.MCandle)
}

// -----------------------------------------------------------------------------
// FeedManager
// -----------------------------------------------------------------------------

// FeedManager owns the upstream feed lifecycle: candle bootstrap, stream start
// and routing of every frame into the ingester.
type FeedManager struct {
	Source    interfaces.IFeedSource
	Bootstrap interfaces.ICandleBootstrapper
	Ingester  IIngester
	Logger    *logger.Logger

	errors           *helpers.ErrorHandler
	bootstrapTimeout time.Duration

	mu      sync.Mutex
	running bool

	// srcMu guards Source for status readers, which must not wait on a
	// bootstrap in progress under mu.
	srcMu sync.RWMutex
}

// -----------------------------------------------------------------------------

func NewFeedManager(ingester IIngester, bootstrap interfaces.ICandleBootstrapper, log *logger.Logger) *FeedManager {
	return &FeedManager{
		Ingester:         ingester,
		Bootstrap:        bootstrap,
		Logger:           log,
		errors:           helpers.NewErrorHandler(log.Named("Ingest")),
		bootstrapTimeout: 15 * time.Second,
	}
}

// -----------------------------------------------------------------------------

// SetSource attaches the stream. It must be called before Start.
func (m *FeedManager) SetSource(source interfaces.IFeedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("feed manager is already running")
	}
	m.srcMu.Lock()
	m.Source = source
	m.srcMu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

// Handle is the stream callback. Bad frames are counted and skipped.
func (m *FeedManager) Handle(msg models.MRawMessage) {
	err := m.errors.Guard("ingest "+msg.Topic, func() error {
		return m.Ingester.Ingest(msg)
	})
	if err != nil {
		m.Logger.Debug("Skipped %s frame", msg.Topic)
	}
}

// -----------------------------------------------------------------------------

// IngestErrors is the number of frames dropped since start.
func (m *FeedManager) IngestErrors() int64 {
	return m.errors.ErrorCount()
}

// -----------------------------------------------------------------------------

// Start seeds candle history, then starts the stream. A failed bootstrap is
// logged and the stream starts with an empty series.
func (m *FeedManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("feed manager is already running")
	}
	if m.Source == nil {
		return fmt.Errorf("feed manager has no source")
	}

	// 1. Bootstrap
	if m.Bootstrap != nil {
		bctx, cancel := context.WithTimeout(ctx, m.bootstrapTimeout)
		candles, err := m.Bootstrap.FetchInitialCandles(bctx)
		cancel()
		if err != nil {
			m.Logger.Warning("Candle bootstrap failed, starting empty: %v", err)
		} else {
			m.Ingester.SeedCandles(candles)
			m.Logger.Info("Seeded %d candles", len(candles))
		}
	}

	// 2. Stream
	if err := m.Source.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	m.running = true
	return nil
}

// -----------------------------------------------------------------------------

func (m *FeedManager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	m.Logger.Info("Stopping feed...")
	return m.Source.Stop()
}

// -----------------------------------------------------------------------------
// Status, delegated to the source
// -----------------------------------------------------------------------------

func (m *FeedManager) source() interfaces.IFeedSource {
	m.srcMu.RLock()
	defer m.srcMu.RUnlock()
	return m.Source
}

func (m *FeedManager) State() string {
	src := m.source()
	if src == nil {
		return "disconnected"
	}
	return src.State()
}

func (m *FeedManager) ReconnectCount() int64 {
	src := m.source()
	if src == nil {
		return 0
	}
	return src.ReconnectCount()
}

func (m *FeedManager) ForceReconnect() {
	if src := m.source(); src != nil {
		src.ForceReconnect()
	}
}
