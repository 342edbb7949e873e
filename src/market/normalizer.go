package market

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// Normalizer
// -----------------------------------------------------------------------------

// Normalizer owns the canonical ticker, order book and candle series for one
// symbol. Every mutation happens under mu; change events are published after
// mu is released.
type Normalizer struct {
	symbol string
	sink   interfaces.IBroadcaster
	Logger *logger.Logger

	mu         sync.RWMutex
	ticker     models.MTicker
	book       *OrderBookReconstructor
	candles    *CandleAggregator
	lastUpdate int64

	onCandleClosed func(models.MCandle)
	now            func() time.Time
}

// -----------------------------------------------------------------------------

func NewNormalizer(cfg *models.MConfig, sink interfaces.IBroadcaster, log *logger.Logger) *Normalizer {
	return &Normalizer{
		symbol:  cfg.Feed.Symbol,
		sink:    sink,
		Logger:  log,
		ticker:  models.MTicker{Symbol: cfg.Feed.Symbol},
		book:    NewOrderBookReconstructor(cfg.MarketData.MaxOrderbookLevels),
		candles: NewCandleAggregator(cfg.MarketData.MaxCandles),
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

// SetSink replaces the broadcast target. Call before ingest starts.
func (n *Normalizer) SetSink(sink interfaces.IBroadcaster) {
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
}

// -----------------------------------------------------------------------------

// OnCandleClosed registers fn for candles the exchange marks as confirmed.
func (n *Normalizer) OnCandleClosed(fn func(models.MCandle)) {
	n.mu.Lock()
	n.onCandleClosed = fn
	n.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Ingest routes one upstream message by topic. Malformed payloads return an
// UpstreamTransientError and leave state untouched.
func (n *Normalizer) Ingest(msg models.MRawMessage) error {
	var (
		env    *models.MEnvelope
		closed []models.MCandle
		err    error
	)

	n.mu.Lock()
	switch {
	case strings.Contains(msg.Topic, "tickers"):
		env, err = n.handleTicker(msg.Data)
	case strings.Contains(msg.Topic, "orderbook"):
		env, err = n.handleOrderBook(msg.Type, msg.Data)
	case strings.Contains(msg.Topic, "kline"):
		env, closed, err = n.handleKline(msg.Data)
	default:
		n.mu.Unlock()
		n.Logger.Debug("Ignoring topic %s", msg.Topic)
		return nil
	}
	if err == nil {
		n.lastUpdate = n.now().UnixMilli()
	}
	sink := n.sink
	onClosed := n.onCandleClosed
	n.mu.Unlock()

	if err != nil {
		return helpers.NewUpstreamTransientError(fmt.Sprintf("decode %s", msg.Topic), err)
	}
	if env != nil && sink != nil {
		sink.Broadcast(*env)
	}
	if onClosed != nil {
		for _, c := range closed {
			onClosed(c)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// handleTicker replaces the ticker wholesale. The exchange sends an object; some
// gateways wrap it in a one-element array.
func (n *Normalizer) handleTicker(data json.RawMessage) (*models.MEnvelope, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	change := obj.firstFloat(changeAliases) * 100
	n.ticker = models.MTicker{
		Symbol:        n.symbol,
		Last:          obj.firstFloat(lastPriceAliases),
		Change24h:     change,
		ChangePercent: change,
		Volume:        obj.firstFloat(volumeAliases),
		High:          obj.firstFloat(highAliases),
		Low:           obj.firstFloat(lowAliases),
	}

	return &models.MEnvelope{Type: models.EventTicker, Data: n.ticker}, nil
}

// -----------------------------------------------------------------------------

func (n *Normalizer) handleOrderBook(msgType string, data json.RawMessage) (*models.MEnvelope, error) {
	var payload struct {
		Type string     `json:"type"`
		B    []rawLevel `json:"b"`
		A    []rawLevel `json:"a"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}

	update := BookUpdate{Snapshot: msgType == "snapshot" || payload.Type == "snapshot"}
	if payload.B != nil {
		update.Bids = decodeLevels(payload.B)
	}
	if payload.A != nil {
		update.Asks = decodeLevels(payload.A)
	}

	book, ok := n.book.Apply(update)
	if !ok {
		return nil, nil
	}
	return &models.MEnvelope{Type: models.EventOrderBook, Data: book}, nil
}

// -----------------------------------------------------------------------------

func (n *Normalizer) handleKline(data json.RawMessage) (*models.MEnvelope, []models.MCandle, error) {
	rows, err := decodeRows(data)
	if err != nil {
		return nil, nil, err
	}

	var closed []models.MCandle
	changed := false
	for _, row := range rows {
		c := models.MCandle{
			Time:   int64(row.firstFloat(klineStartAliases)) / 1000,
			Open:   row.firstFloat(klineOpenAliases),
			High:   row.firstFloat(klineHighAliases),
			Low:    row.firstFloat(klineLowAliases),
			Close:  row.firstFloat(klineCloseAliases),
			Volume: row.firstFloat(klineVolumeAliases),
		}
		if n.candles.Append(c) == CandleStale {
			n.Logger.Debug("Dropping stale candle %d", c.Time)
			continue
		}
		changed = true
		if row.bool("confirm") {
			closed = append(closed, c)
		}
	}

	if !changed {
		return nil, nil, nil
	}
	return &models.MEnvelope{Type: models.EventCandles, Data: n.candles.Candles()}, closed, nil
}

// -----------------------------------------------------------------------------

// SeedCandles loads bootstrap history; candles must be oldest first.
func (n *Normalizer) SeedCandles(candles []models.MCandle) {
	n.mu.Lock()
	n.candles.Seed(candles)
	n.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Snapshot returns a deep copy of the market state.
func (n *Normalizer) Snapshot() models.MMarketSnapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return models.MMarketSnapshot{
		Symbol:     n.symbol,
		Ticker:     n.ticker,
		OrderBook:  n.book.Book(),
		Candles:    n.candles.Candles(),
		LastUpdate: n.lastUpdate,
	}
}

// -----------------------------------------------------------------------------

// CurrentPrice implements interfaces.IPriceSource. A zero last price is treated
// as unknown.
func (n *Normalizer) CurrentPrice() (float64, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ticker.Last, n.ticker.Last > 0
}

// -----------------------------------------------------------------------------

func (n *Normalizer) LastUpdate() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastUpdate
}

// -----------------------------------------------------------------------------

// Decoding helpers
// -----------------------------------------------------------------------------

func decodeObject(data json.RawMessage) (fields, error) {
	rows, err := decodeRows(data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return rows[0], nil
}

// decodeRows accepts either an object or an array of objects.
func decodeRows(data json.RawMessage) ([]fields, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("missing data")
	}

	if trimmed[0] == '[' {
		var rows []fields
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	var obj fields
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return []fields{obj}, nil
}
