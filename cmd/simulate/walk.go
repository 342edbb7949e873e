package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"market-relay/src/analysis"
	"market-relay/src/analysis/core"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// RandomWalkFeed
// -----------------------------------------------------------------------------

// RandomWalkFeed stands in for the exchange stream. Every tick moves the price
// by a gaussian step and emits ticker, order book and kline frames in the same
// shape the exchange uses.
type RandomWalkFeed struct {
	symbol      string
	depth       int
	interval    string
	intervalSec int64
	tick        time.Duration
	volatility  float64
	handler     func(models.MRawMessage)
	Logger      *logger.Logger
	now         func() time.Time

	mu      sync.Mutex
	rng     *rand.Rand
	price   float64
	open24h float64
	high    float64
	low     float64
	volume  float64
	candle  models.MCandle

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running    atomic.Bool
	reconnects atomic.Int64
}

type WalkOptions struct {
	StartPrice float64
	Volatility float64 // stddev of one tick's relative move
	Tick       time.Duration
	Seed       int64
}

// -----------------------------------------------------------------------------

func NewRandomWalkFeed(cfg *models.MConfig, opts WalkOptions, handler func(models.MRawMessage), log *logger.Logger) (*RandomWalkFeed, error) {
	sec, err := analysis.IntervalSeconds(cfg.Feed.CandleInterval)
	if err != nil {
		return nil, err
	}
	if opts.StartPrice <= 0 {
		return nil, fmt.Errorf("start price must be positive")
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}

	return &RandomWalkFeed{
		symbol:      cfg.Feed.Symbol,
		depth:       cfg.MarketData.MaxOrderbookLevels,
		interval:    cfg.Feed.CandleInterval,
		intervalSec: sec,
		tick:        opts.Tick,
		volatility:  opts.Volatility,
		handler:     handler,
		Logger:      log,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(opts.Seed)),
		price:       opts.StartPrice,
		open24h:     opts.StartPrice,
		high:        opts.StartPrice,
		low:         opts.StartPrice,
	}, nil
}

// SetHandler replaces the frame handler. Call before Start.
func (w *RandomWalkFeed) SetHandler(h func(models.MRawMessage)) {
	w.runMu.Lock()
	w.handler = h
	w.runMu.Unlock()
}

// -----------------------------------------------------------------------------
// Candle bootstrap
// -----------------------------------------------------------------------------

// FetchInitialCandles walks count closed candles up to the current bucket and
// leaves the price at the last close.
func (w *RandomWalkFeed) FetchInitialCandles(ctx context.Context) ([]models.MCandle, error) {
	const count = 120

	w.mu.Lock()
	defer w.mu.Unlock()

	current, _ := analysis.CalculateWindowBoundaries(w.now().Unix(), w.intervalSec)
	start := current - count*w.intervalSec

	candles := make([]models.MCandle, 0, count)
	for i := int64(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := models.MCandle{Time: start + i*w.intervalSec, Open: w.price, High: w.price, Low: w.price, Close: w.price}
		for s := 0; s < 10; s++ {
			p := w.stepLocked()
			c.High = math.Max(c.High, p)
			c.Low = math.Min(c.Low, p)
			c.Close = p
			c.Volume += w.rng.Float64()
		}
		candles = append(candles, c)
	}
	w.open24h = candles[0].Open
	return candles, nil
}

// -----------------------------------------------------------------------------
// IFeedSource
// -----------------------------------------------------------------------------

func (w *RandomWalkFeed) Start(ctx context.Context) error {
	w.runMu.Lock()
	if w.cancel != nil {
		w.runMu.Unlock()
		return fmt.Errorf("random walk for %s is already running", w.symbol)
	}
	handler := w.handler
	if handler == nil {
		w.runMu.Unlock()
		return fmt.Errorf("random walk for %s has no handler", w.symbol)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel, w.done = cancel, done
	w.running.Store(true)
	w.runMu.Unlock()

	// Initial book snapshot, like a fresh subscription
	emit(handler, w.snapshotFrames())
	go w.loop(runCtx, handler, done)
	w.Logger.Info("Random walk started for %s every %s", w.symbol, w.tick)
	return nil
}

func (w *RandomWalkFeed) loop(ctx context.Context, handler func(models.MRawMessage), done chan struct{}) {
	defer close(done)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			emit(handler, w.Step())
		}
	}
}

func (w *RandomWalkFeed) Stop() error {
	w.runMu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.runMu.Unlock()

	if cancel == nil {
		return fmt.Errorf("random walk for %s is not running", w.symbol)
	}
	cancel()
	<-done
	return nil
}

func (w *RandomWalkFeed) State() string {
	if w.running.Load() {
		return "subscribed"
	}
	return "disconnected"
}

func (w *RandomWalkFeed) ReconnectCount() int64 { return w.reconnects.Load() }

// ForceReconnect resends the book snapshot, as a resubscribe would.
func (w *RandomWalkFeed) ForceReconnect() {
	if !w.running.Load() {
		return
	}
	w.runMu.Lock()
	handler := w.handler
	w.runMu.Unlock()

	w.reconnects.Add(1)
	emit(handler, w.snapshotFrames())
}

// -----------------------------------------------------------------------------
// Frames
// -----------------------------------------------------------------------------

// Step advances the walk one tick and returns the frames it produced.
func (w *RandomWalkFeed) Step() []models.MRawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()

	price := w.stepLocked()
	w.high = math.Max(w.high, price)
	w.low = math.Min(w.low, price)
	qty := w.rng.Float64()
	w.volume += qty

	nowMs := w.now().UnixMilli()
	bucket, _ := analysis.CalculateWindowBoundaries(nowMs/1000, w.intervalSec)

	var frames []models.MRawMessage
	if w.candle.Time != 0 && w.candle.Time != bucket {
		frames = append(frames, w.klineFrame(w.candle, true, nowMs))
		w.candle = models.MCandle{}
	}
	if w.candle.Time == 0 {
		w.candle = models.MCandle{Time: bucket, Open: price, High: price, Low: price}
	}
	w.candle.High = math.Max(w.candle.High, price)
	w.candle.Low = math.Min(w.candle.Low, price)
	w.candle.Close = price
	w.candle.Volume += qty

	frames = append(frames,
		w.tickerFrame(nowMs),
		w.bookFrame("snapshot", nowMs),
		w.klineFrame(w.candle, false, nowMs),
	)
	return frames
}

func (w *RandomWalkFeed) stepLocked() float64 {
	w.price *= 1 + w.volatility*w.rng.NormFloat64()
	if w.price < 0.01 {
		w.price = 0.01
	}
	return w.price
}

func (w *RandomWalkFeed) snapshotFrames() []models.MRawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	nowMs := w.now().UnixMilli()
	return []models.MRawMessage{w.tickerFrame(nowMs), w.bookFrame("snapshot", nowMs)}
}

func (w *RandomWalkFeed) tickerFrame(ts int64) models.MRawMessage {
	change := core.CalculateChangePercent(w.price, w.open24h) / 100
	return w.frame("tickers."+w.symbol, "", ts, map[string]string{
		"symbol":       w.symbol,
		"lastPrice":    num(w.price),
		"price24hPcnt": num(change),
		"highPrice24h": num(w.high),
		"lowPrice24h":  num(w.low),
		"volume24h":    num(w.volume),
	})
}

// bookFrame builds depth levels spaced one basis point apart around the price.
func (w *RandomWalkFeed) bookFrame(kind string, ts int64) models.MRawMessage {
	step := w.price * 0.0001
	bids := make([][2]string, 0, w.depth)
	asks := make([][2]string, 0, w.depth)
	for i := 1; i <= w.depth; i++ {
		bids = append(bids, [2]string{num(w.price - float64(i)*step), num(w.rng.Float64() * 5)})
		asks = append(asks, [2]string{num(w.price + float64(i)*step), num(w.rng.Float64() * 5)})
	}
	topic := fmt.Sprintf("orderbook.%d.%s", w.depth, w.symbol)
	return w.frame(topic, kind, ts, map[string]interface{}{"s": w.symbol, "b": bids, "a": asks})
}

func (w *RandomWalkFeed) klineFrame(c models.MCandle, confirm bool, ts int64) models.MRawMessage {
	row := map[string]interface{}{
		"start":   c.Time * 1000,
		"end":     (c.Time+w.intervalSec)*1000 - 1,
		"open":    num(c.Open),
		"high":    num(c.High),
		"low":     num(c.Low),
		"close":   num(c.Close),
		"volume":  num(c.Volume),
		"confirm": confirm,
	}
	return w.frame(fmt.Sprintf("kline.%s.%s", w.interval, w.symbol), "", ts, []interface{}{row})
}

func (w *RandomWalkFeed) frame(topic, kind string, ts int64, data interface{}) models.MRawMessage {
	raw, err := json.Marshal(data)
	if err != nil {
		w.Logger.Error("Encode %s: %v", topic, err)
	}
	return models.MRawMessage{Topic: topic, Type: kind, Ts: ts, Data: raw}
}

func emit(handler func(models.MRawMessage), frames []models.MRawMessage) {
	for _, f := range frames {
		handler(f)
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
