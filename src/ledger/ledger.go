package ledger

import (
	"sort"
	"sync"
	"time"

	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const quoteCurrency = "USDT"

// -----------------------------------------------------------------------------
// Limits
// -----------------------------------------------------------------------------

type Limits struct {
	Symbol          string
	InitialBalance  map[string]decimal.Decimal
	DefaultLeverage int
	MaxLeverage     int
	MinOrderAmount  decimal.Decimal
	MaxPositions    int
}

func LimitsFromConfig(cfg *models.MConfig) Limits {
	balance := make(map[string]decimal.Decimal, len(cfg.Trading.InitialBalance))
	for currency, amount := range cfg.Trading.InitialBalance {
		balance[currency] = decimal.NewFromFloat(amount)
	}
	if _, ok := balance[quoteCurrency]; !ok {
		balance[quoteCurrency] = decimal.Zero
	}

	return Limits{
		Symbol:          cfg.Feed.Symbol,
		InitialBalance:  balance,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
		MaxLeverage:     cfg.Trading.MaxLeverage,
		MinOrderAmount:  decimal.NewFromFloat(cfg.Trading.MinOrderAmount),
		MaxPositions:    cfg.Trading.MaxPositions,
	}
}

// -----------------------------------------------------------------------------
// TradingLedger
// -----------------------------------------------------------------------------

// TradingLedger owns every user, order, position and trade. All state sits
// behind mu; events are collected while it is held and published after it is
// released, so sinks may call back into the ledger.
type TradingLedger struct {
	limits Limits
	prices interfaces.IPriceSource
	Logger *logger.Logger
	errors *helpers.ErrorHandler

	mu        sync.Mutex
	users     map[string]*models.MUser
	orders    map[string]*models.MOrder
	positions map[string]*models.MPosition

	sinksMu sync.RWMutex
	sinks   []interfaces.ILedgerEventSink

	now   func() time.Time
	newID func() string
}

// -----------------------------------------------------------------------------

func NewTradingLedger(limits Limits, prices interfaces.IPriceSource, log *logger.Logger) *TradingLedger {
	return &TradingLedger{
		limits:    limits,
		prices:    prices,
		Logger:    log,
		errors:    helpers.NewErrorHandler(log.Named("LedgerSweep")),
		users:     make(map[string]*models.MUser),
		orders:    make(map[string]*models.MOrder),
		positions: make(map[string]*models.MPosition),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) Limits() Limits {
	return l.limits
}

// -----------------------------------------------------------------------------

// AddSink registers a receiver for ledger events.
func (l *TradingLedger) AddSink(sink interfaces.ILedgerEventSink) {
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, sink)
	l.sinksMu.Unlock()
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) publish(events []models.MLedgerEvent) {
	if len(events) == 0 {
		return
	}
	l.sinksMu.RLock()
	sinks := append([]interfaces.ILedgerEventSink(nil), l.sinks...)
	l.sinksMu.RUnlock()

	for _, s := range sinks {
		s.PublishLedgerEvents(events)
	}
}

// -----------------------------------------------------------------------------

// currentPrice reads the price source. It must not be called with mu held.
func (l *TradingLedger) currentPrice() (decimal.Decimal, bool) {
	if l.prices == nil {
		return decimal.Zero, false
	}
	p, ok := l.prices.CurrentPrice()
	if !ok || p <= 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(p), true
}

func (l *TradingLedger) nowMs() int64 {
	return l.now().UnixMilli()
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// GetOrCreateUser returns the user, creating it with the initial balance on
// first contact.
func (l *TradingLedger) GetOrCreateUser(userID string) models.MUser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyUser(l.userLocked(userID))
}

func (l *TradingLedger) userLocked(userID string) *models.MUser {
	if u, ok := l.users[userID]; ok {
		return u
	}

	balance := make(map[string]decimal.Decimal, len(l.limits.InitialBalance))
	for currency, amount := range l.limits.InitialBalance {
		balance[currency] = amount
	}
	u := &models.MUser{
		ID:        userID,
		Balance:   balance,
		Orders:    []string{},
		Positions: []string{},
		Trades:    []models.MTrade{},
		TotalPnL:  decimal.Zero,
		CreatedAt: l.nowMs(),
	}
	l.users[userID] = u
	l.Logger.Debug("Created user %s", userID)
	return u
}

// -----------------------------------------------------------------------------

// LookupUser returns the user without creating it.
func (l *TradingLedger) LookupUser(userID string) (models.MUser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return models.MUser{}, helpers.NewNotFoundError("user", userID)
	}
	return copyUser(u), nil
}

// -----------------------------------------------------------------------------
// Getters
// -----------------------------------------------------------------------------

func (l *TradingLedger) GetBalance(userID string) (map[string]decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return nil, helpers.NewNotFoundError("user", userID)
	}
	return copyBalance(u.Balance), nil
}

// -----------------------------------------------------------------------------

// GetOpenPositions returns the user's open positions, oldest first.
func (l *TradingLedger) GetOpenPositions(userID string) ([]models.MPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return nil, helpers.NewNotFoundError("user", userID)
	}
	return l.openPositionsLocked(u), nil
}

func (l *TradingLedger) openPositionsLocked(u *models.MUser) []models.MPosition {
	out := []models.MPosition{}
	for _, id := range u.Positions {
		if p, ok := l.positions[id]; ok && p.Status == models.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// resyncEventsLocked reports the user's current balance and open positions.
// Sweeps emit it after a recovered fault, since part of the work may already
// be applied.
func (l *TradingLedger) resyncEventsLocked(u *models.MUser) []models.MLedgerEvent {
	return []models.MLedgerEvent{
		l.balanceEventLocked(u),
		{Kind: models.LedgerPositionUpdated, UserID: u.ID, Positions: l.openPositionsLocked(u)},
	}
}

// -----------------------------------------------------------------------------

// GetPendingOrders returns the user's pending limit orders, oldest first.
func (l *TradingLedger) GetPendingOrders(userID string) ([]models.MOrder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return nil, helpers.NewNotFoundError("user", userID)
	}

	out := []models.MOrder{}
	for _, id := range u.Orders {
		if o, ok := l.orders[id]; ok && o.Status == models.OrderPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) GetTrades(userID string) ([]models.MTrade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[userID]
	if !ok {
		return nil, helpers.NewNotFoundError("user", userID)
	}
	return append([]models.MTrade{}, u.Trades...), nil
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) Stats() models.MLedgerStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := models.MLedgerStats{Users: len(l.users)}
	for _, p := range l.positions {
		if p.Status == models.PositionOpen {
			stats.OpenPositions++
		}
	}
	for _, o := range l.orders {
		if o.Status == models.OrderPending {
			stats.PendingOrders++
		}
	}
	for _, u := range l.users {
		stats.ClosedTrades += len(u.Trades)
	}
	return stats
}

// -----------------------------------------------------------------------------
// Copy helpers
// -----------------------------------------------------------------------------

func copyBalance(b map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func copyUser(u *models.MUser) models.MUser {
	c := *u
	c.Balance = copyBalance(u.Balance)
	c.Orders = append([]string{}, u.Orders...)
	c.Positions = append([]string{}, u.Positions...)
	c.Trades = append([]models.MTrade{}, u.Trades...)
	return c
}

// sortedUserIDs gives sweeps a deterministic order.
func sortedUserIDs[T any](m map[string]T) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
