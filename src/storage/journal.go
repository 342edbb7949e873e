package storage

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"
)

const journalQueueSize = 1024

// -----------------------------------------------------------------------------

// NewDatabase picks the journal backend from storage.db_type.
func NewDatabase(cfg *models.MConfig, log *logger.Logger) (interfaces.IJournal, error) {
	switch strings.ToLower(cfg.Storage.DBType) {
	case "sqlite", "":
		return NewAsyncSQLiteDB(cfg, log)
	case "postgres", "postgresql":
		return NewPostgresDB(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported db_type %q", cfg.Storage.DBType)
	}
}

// -----------------------------------------------------------------------------
// Journal
// -----------------------------------------------------------------------------

type journalBatch struct {
	trades  []models.MTrade
	orders  []models.MOrder
	candles []models.MCandle
}

// Journal queues ledger events and closed candles and writes them from a single
// worker goroutine. A full queue drops the batch so publishers never block.
type Journal struct {
	DB       interfaces.IJournal
	Logger   *logger.Logger
	errors   *helpers.ErrorHandler
	symbol   string
	interval string

	queue   chan journalBatch
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	written atomic.Int64
}

// -----------------------------------------------------------------------------

// NewJournal takes an initialized database and starts the writer.
func NewJournal(db interfaces.IJournal, symbol, interval string, log *logger.Logger) *Journal {
	j := &Journal{
		DB:       db,
		Logger:   log,
		errors:   helpers.NewErrorHandler(log),
		symbol:   symbol,
		interval: interval,
		queue:    make(chan journalBatch, journalQueueSize),
		done:     make(chan struct{}),
	}
	go j.run()
	return j
}

// -----------------------------------------------------------------------------

func (j *Journal) run() {
	defer close(j.done)

	for batch := range j.queue {
		_ = j.errors.Guard("journal write", func() error {
			if err := j.DB.SaveOrders(batch.orders); err != nil {
				return fmt.Errorf("save orders: %w", err)
			}
			if err := j.DB.SaveTrades(batch.trades); err != nil {
				return fmt.Errorf("save trades: %w", err)
			}
			if err := j.DB.SaveCandles(j.symbol, j.interval, batch.candles); err != nil {
				return fmt.Errorf("save candles: %w", err)
			}
			j.written.Add(int64(len(batch.orders) + len(batch.trades) + len(batch.candles)))
			return nil
		})
	}
}

// -----------------------------------------------------------------------------

func (j *Journal) enqueue(batch journalBatch) {
	if len(batch.trades) == 0 && len(batch.orders) == 0 && len(batch.candles) == 0 {
		return
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.queue <- batch:
	default:
		j.dropped.Add(1)
		j.Logger.Warning("Journal queue full, dropping batch")
	}
}

// -----------------------------------------------------------------------------

// PublishLedgerEvents journals every order change and closed trade.
func (j *Journal) PublishLedgerEvents(events []models.MLedgerEvent) {
	var batch journalBatch
	for _, e := range events {
		if e.Order != nil {
			batch.orders = append(batch.orders, *e.Order)
		}
		if e.Trade != nil {
			batch.trades = append(batch.trades, *e.Trade)
		}
	}
	j.enqueue(batch)
}

// RecordCandle journals one confirmed candle.
func (j *Journal) RecordCandle(c models.MCandle) {
	j.enqueue(journalBatch{candles: []models.MCandle{c}})
}

// -----------------------------------------------------------------------------

// Written counts rows handed to the database successfully.
func (j *Journal) Written() int64 { return j.written.Load() }

// Dropped counts batches lost to a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

func (j *Journal) Errors() int64 { return j.errors.ErrorCount() }

// -----------------------------------------------------------------------------

// Close drains the queue, then closes the database. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.DB.Close()
}
