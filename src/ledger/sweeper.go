package ledger

import (
	"context"
	"sync"
	"time"

	"market-relay/src/interfaces"
	"market-relay/src/logger"
)

// -----------------------------------------------------------------------------
// Sweeper
// -----------------------------------------------------------------------------

// Sweeper periodically triggers pending limit orders and marks open positions
// to the current price.
type Sweeper struct {
	ledger   *TradingLedger
	prices   interfaces.IPriceSource
	interval time.Duration
	Logger   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(l *TradingLedger, prices interfaces.IPriceSource, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{ledger: l, prices: prices, interval: interval, Logger: log}
}

// -----------------------------------------------------------------------------

// RunOnce performs one sweep. It reports false when no price is known yet.
func (s *Sweeper) RunOnce() bool {
	price, ok := s.prices.CurrentPrice()
	if !ok || price <= 0 {
		return false
	}
	s.ledger.CheckPendingOrders(price)
	s.ledger.UpdatePositionsPnL(price)
	return true
}

// -----------------------------------------------------------------------------

// Start launches the sweep loop. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.Logger.Info("Sweeper started, interval %s", s.interval)
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.RunOnce() {
				s.Logger.Debug("Sweep skipped: no market price")
			}
		}
	}
}

// -----------------------------------------------------------------------------

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.Logger.Info("Sweeper stopped")
}
