package ledger

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/src/config"
	"market-relay/src/helpers"
	"market-relay/src/logger"
	"market-relay/src/models"
)

type fakePrice struct {
	mu    sync.Mutex
	price float64
}

func (f *fakePrice) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakePrice) CurrentPrice() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.price > 0
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.MLedgerEvent
}

func (s *recordingSink) PublishLedgerEvents(events []models.MLedgerEvent) {
	s.mu.Lock()
	s.events = append(s.events, events...)
	s.mu.Unlock()
}

func (s *recordingSink) kinds() []models.MLedgerEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.MLedgerEventKind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func newTestLedger(t *testing.T, price float64) (*TradingLedger, *fakePrice, *recordingSink) {
	t.Helper()
	prices := &fakePrice{price: price}
	sink := &recordingSink{}
	l := NewTradingLedger(LimitsFromConfig(config.Default().MConfig), prices, logger.Nop("ledger"))
	seq := 0
	l.newID = func() string { seq++; return fmt.Sprintf("id-%d", seq) }
	l.now = func() time.Time { return time.UnixMilli(1700000000000) }
	l.AddSink(sink)
	return l, prices, sink
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func marketBuy(qty string, lev int) models.MOrderRequest {
	return models.MOrderRequest{Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: d(qty), Leverage: lev}
}

func limitReq(side models.MSide, qty, price string, lev int) models.MOrderRequest {
	return models.MOrderRequest{
		Side: side, OrderType: models.OrderTypeLimit, Quantity: d(qty),
		Price: decimal.NewNullDecimal(d(price)), Leverage: lev,
	}
}

func usdt(t *testing.T, l *TradingLedger, user string) decimal.Decimal {
	t.Helper()
	b, err := l.GetBalance(user)
	require.NoError(t, err)
	return b["USDT"]
}

func TestNewUserGetsInitialBalance(t *testing.T) {
	l, _, _ := newTestLedger(t, 0)
	u := l.GetOrCreateUser("u1")
	assert.True(t, u.Balance["USDT"].Equal(d("10000")))
	assert.True(t, u.Balance["BTC"].IsZero())

	_, err := l.LookupUser("ghost")
	assert.True(t, helpers.IsNotFound(err))
}

func TestMarketBuyThenCloseInProfit(t *testing.T) {
	l, prices, sink := newTestLedger(t, 50000)
	l.GetOrCreateUser("u1")

	placed, err := l.PlaceOrder("u1", marketBuy("0.1", 10))
	require.NoError(t, err)
	require.NotNil(t, placed.Position)
	assert.Equal(t, models.OrderFilled, placed.Order.Status)
	assert.True(t, placed.Position.Margin.Equal(d("500")))
	assert.True(t, placed.Position.EntryPrice.Equal(d("50000")))
	assert.True(t, usdt(t, l, "u1").Equal(d("9500")))
	assert.Equal(t, []models.MLedgerEventKind{models.LedgerPositionOpened, models.LedgerBalanceUpdated}, sink.kinds())

	prices.set(51000)
	l.UpdatePositionsPnL(51000)
	open, err := l.GetOpenPositions("u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].PnL.Equal(d("100")))

	closed, err := l.ClosePosition("u1", placed.Position.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PositionClosed, closed.Status)
	assert.True(t, closed.RealizedPnL.Decimal.Equal(d("100")))
	assert.True(t, usdt(t, l, "u1").Equal(d("10100")))

	trades, err := l.GetTrades("u1")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].ExitPrice.Equal(d("51000")))

	u, _ := l.LookupUser("u1")
	assert.True(t, u.TotalPnL.Equal(d("100")))
}

func TestShortLosesWhenPriceRises(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	req := marketBuy("2", 2)
	req.Side = models.SideSell

	placed, err := l.PlaceOrder("u1", req)
	require.NoError(t, err)
	l.UpdatePositionsPnL(110)

	closed, err := l.ClosePosition("u1", placed.Position.ID)
	require.NoError(t, err)
	assert.True(t, closed.PnL.Equal(d("-20")))
	assert.True(t, usdt(t, l, "u1").Equal(d("9980")))
}

func TestCloseWithoutMarkUsesEntryPrice(t *testing.T) {
	l, prices, _ := newTestLedger(t, 200)
	placed, err := l.PlaceOrder("u1", marketBuy("1", 10))
	require.NoError(t, err)

	prices.set(300)
	closed, err := l.ClosePosition("u1", placed.Position.ID)
	require.NoError(t, err)
	assert.True(t, closed.ExitPrice.Decimal.Equal(d("200")))
	assert.True(t, closed.PnL.IsZero())
	assert.True(t, usdt(t, l, "u1").Equal(d("10000")))
}

func TestValidationFailures(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	l.GetOrCreateUser("u1")

	cases := []struct {
		name   string
		req    models.MOrderRequest
		reason string
	}{
		{"quantity", marketBuy("0.0001", 10), helpers.ReasonQuantityTooSmall},
		{"leverage", marketBuy("1", 101), helpers.ReasonLeverageTooHigh},
		{"negative leverage", marketBuy("1", -1), helpers.ReasonInvalidRequest},
		{"side", models.MOrderRequest{Side: "hold", OrderType: models.OrderTypeMarket, Quantity: d("1")}, helpers.ReasonInvalidRequest},
		{"type", models.MOrderRequest{Side: models.SideBuy, OrderType: "stop", Quantity: d("1")}, helpers.ReasonInvalidRequest},
		{"symbol", models.MOrderRequest{Symbol: "ETHUSDT", Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: d("1")}, helpers.ReasonInvalidRequest},
		{"limit price", models.MOrderRequest{Side: models.SideBuy, OrderType: models.OrderTypeLimit, Quantity: d("1")}, helpers.ReasonInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.PlaceOrder("u1", tc.req)
			var ve *helpers.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}
	assert.True(t, usdt(t, l, "u1").Equal(d("10000")))
}

func TestDefaultLeverageApplied(t *testing.T) {
	l, _, _ := newTestLedger(t, 1000)
	placed, err := l.PlaceOrder("u1", marketBuy("1", 0))
	require.NoError(t, err)
	assert.Equal(t, 10, placed.Position.Leverage)
	assert.True(t, placed.Position.Margin.Equal(d("100")))
}

func TestMarketOrderWithoutPrice(t *testing.T) {
	l, _, sink := newTestLedger(t, 0)
	_, err := l.PlaceOrder("u1", marketBuy("1", 10))

	var ve *helpers.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, helpers.ReasonMarketUnavailable, ve.Reason)
	assert.Empty(t, sink.kinds())
}

func TestInsufficientBalanceLeavesStateUntouched(t *testing.T) {
	l, _, sink := newTestLedger(t, 50000)
	_, err := l.PlaceOrder("u1", marketBuy("10", 1))

	var ib *helpers.InsufficientBalanceError
	require.True(t, errors.As(err, &ib))
	assert.True(t, usdt(t, l, "u1").Equal(d("10000")))
	open, _ := l.GetOpenPositions("u1")
	assert.Empty(t, open)
	assert.Empty(t, sink.kinds())
}

func TestPositionLimit(t *testing.T) {
	l, _, _ := newTestLedger(t, 10)
	for i := 0; i < 10; i++ {
		_, err := l.PlaceOrder("u1", marketBuy("1", 10))
		require.NoError(t, err)
	}

	_, err := l.PlaceOrder("u1", marketBuy("1", 10))
	var ve *helpers.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, helpers.ReasonPositionLimitReached, ve.Reason)
}

func TestLimitOrderFillsOnSweep(t *testing.T) {
	l, _, sink := newTestLedger(t, 50000)

	placed, err := l.PlaceOrder("u1", limitReq(models.SideBuy, "0.1", "49000", 10))
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, placed.Order.Status)
	assert.Nil(t, placed.Position)
	assert.True(t, usdt(t, l, "u1").Equal(d("10000")))

	l.CheckPendingOrders(49500)
	pending, _ := l.GetPendingOrders("u1")
	assert.Len(t, pending, 1)

	sink.reset()
	l.CheckPendingOrders(48900)
	pending, _ = l.GetPendingOrders("u1")
	assert.Empty(t, pending)

	open, _ := l.GetOpenPositions("u1")
	require.Len(t, open, 1)
	assert.True(t, open[0].EntryPrice.Equal(d("49000")))
	assert.True(t, usdt(t, l, "u1").Equal(d("9510")))
	assert.Equal(t, []models.MLedgerEventKind{models.LedgerOrderFilled, models.LedgerBalanceUpdated}, sink.kinds())

	// A second sweep must not fill again.
	l.CheckPendingOrders(48000)
	open, _ = l.GetOpenPositions("u1")
	assert.Len(t, open, 1)
}

func TestSellLimitTriggersAtOrAbove(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	_, err := l.PlaceOrder("u1", limitReq(models.SideSell, "1", "120", 10))
	require.NoError(t, err)

	l.CheckPendingOrders(119.99)
	open, _ := l.GetOpenPositions("u1")
	assert.Empty(t, open)

	l.CheckPendingOrders(120)
	open, _ = l.GetOpenPositions("u1")
	require.Len(t, open, 1)
	assert.Equal(t, models.SideSell, open[0].Side)
}

func TestLimitAlreadyTriggeredFillsImmediately(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	placed, err := l.PlaceOrder("u1", limitReq(models.SideBuy, "1", "150", 10))
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, placed.Order.Status)
	require.NotNil(t, placed.Position)
	assert.True(t, placed.Position.EntryPrice.Equal(d("150")))
}

func TestTriggeredLimitWithoutMarginIsCancelled(t *testing.T) {
	l, _, sink := newTestLedger(t, 100)
	_, err := l.PlaceOrder("u1", limitReq(models.SideBuy, "200", "90", 1))
	require.NoError(t, err)

	sink.reset()
	l.CheckPendingOrders(90)
	assert.Equal(t, []models.MLedgerEventKind{models.LedgerOrderCancelled}, sink.kinds())
	assert.True(t, usdt(t, l, "u1").Equal(d("10000")))
	pending, _ := l.GetPendingOrders("u1")
	assert.Empty(t, pending)
}

func TestCancelOrder(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	placed, err := l.PlaceOrder("u1", limitReq(models.SideBuy, "1", "50", 10))
	require.NoError(t, err)

	_, err = l.CancelOrder("u2", placed.Order.ID)
	var oe *helpers.OwnershipError
	assert.True(t, errors.As(err, &oe))

	_, err = l.CancelOrder("u1", "missing")
	assert.True(t, helpers.IsNotFound(err))

	cancelled, err := l.CancelOrder("u1", placed.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.Status)

	_, err = l.CancelOrder("u1", placed.Order.ID)
	var ise *helpers.InvalidStateError
	assert.True(t, errors.As(err, &ise))

	l.CheckPendingOrders(10)
	open, _ := l.GetOpenPositions("u1")
	assert.Empty(t, open)
}

func TestClosePositionErrors(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	placed, err := l.PlaceOrder("u1", marketBuy("1", 10))
	require.NoError(t, err)

	_, err = l.ClosePosition("u2", placed.Position.ID)
	var oe *helpers.OwnershipError
	assert.True(t, errors.As(err, &oe))

	_, err = l.ClosePosition("u1", "nope")
	assert.True(t, helpers.IsNotFound(err))

	_, err = l.ClosePosition("u1", placed.Position.ID)
	require.NoError(t, err)
	_, err = l.ClosePosition("u1", placed.Position.ID)
	var ise *helpers.InvalidStateError
	assert.True(t, errors.As(err, &ise))
}

func TestSweepFaultStillReportsAppliedBalance(t *testing.T) {
	l, _, sink := newTestLedger(t, 50000)
	for _, u := range []string{"a", "b"} {
		_, err := l.PlaceOrder(u, limitReq(models.SideBuy, "0.1", "49000", 10))
		require.NoError(t, err)
	}

	// The first position id request panics, after a's margin is debited.
	calls := 0
	next := l.newID
	l.newID = func() string {
		calls++
		if calls == 1 {
			panic("id source down")
		}
		return next()
	}

	sink.reset()
	l.CheckPendingOrders(48900)

	sink.mu.Lock()
	var aEvents []models.MLedgerEvent
	for _, e := range sink.events {
		if e.UserID == "a" {
			aEvents = append(aEvents, e)
		}
	}
	sink.mu.Unlock()

	require.Len(t, aEvents, 2)
	assert.Equal(t, models.LedgerBalanceUpdated, aEvents[0].Kind)
	assert.True(t, aEvents[0].Balance["USDT"].Equal(usdt(t, l, "a")))
	assert.Equal(t, models.LedgerPositionUpdated, aEvents[1].Kind)
	assert.Empty(t, aEvents[1].Positions)

	// Other users are still swept.
	open, _ := l.GetOpenPositions("b")
	assert.Len(t, open, 1)
	assert.Equal(t, int64(1), l.errors.ErrorCount())
}

func TestUpdatePnLEmitsOneEventPerUser(t *testing.T) {
	l, _, sink := newTestLedger(t, 100)
	for _, u := range []string{"a", "b"} {
		for i := 0; i < 2; i++ {
			_, err := l.PlaceOrder(u, marketBuy("1", 10))
			require.NoError(t, err)
		}
	}
	l.GetOrCreateUser("idle")

	sink.reset()
	l.UpdatePositionsPnL(105)
	kinds := sink.kinds()
	assert.Equal(t, []models.MLedgerEventKind{models.LedgerPositionUpdated, models.LedgerPositionUpdated}, kinds)
	for _, e := range sink.events {
		assert.Len(t, e.Positions, 2)
		for _, p := range e.Positions {
			assert.True(t, p.PnL.Equal(d("5")))
		}
	}
}

func TestStats(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	placed, _ := l.PlaceOrder("u1", marketBuy("1", 10))
	_, _ = l.PlaceOrder("u2", limitReq(models.SideBuy, "1", "50", 10))
	_, _ = l.ClosePosition("u1", placed.Position.ID)

	assert.Equal(t, models.MLedgerStats{Users: 2, OpenPositions: 0, PendingOrders: 1, ClosedTrades: 1}, l.Stats())
}

// Balance conservation: quote balance plus locked margin minus realized PnL
// equals the initial balance after any sequence of operations.
func TestBalanceConservationUnderRandomOperations(t *testing.T) {
	l, prices, _ := newTestLedger(t, 100)
	r := rand.New(rand.NewSource(7))
	initial := d("10000")

	for i := 0; i < 300; i++ {
		price := 80 + r.Float64()*40
		prices.set(price)

		switch r.Intn(5) {
		case 0:
			_, _ = l.PlaceOrder("u1", marketBuy("1", 1+r.Intn(20)))
		case 1:
			side := models.SideBuy
			if r.Intn(2) == 0 {
				side = models.SideSell
			}
			_, _ = l.PlaceOrder("u1", limitReq(side, "0.5", fmt.Sprintf("%.2f", 80+r.Float64()*40), 5))
		case 2:
			open, _ := l.GetOpenPositions("u1")
			if len(open) > 0 {
				_, _ = l.ClosePosition("u1", open[r.Intn(len(open))].ID)
			}
		case 3:
			pending, _ := l.GetPendingOrders("u1")
			if len(pending) > 0 {
				_, _ = l.CancelOrder("u1", pending[0].ID)
			}
		default:
			l.CheckPendingOrders(price)
			l.UpdatePositionsPnL(price)
		}

		locked := decimal.Zero
		open, _ := l.GetOpenPositions("u1")
		for _, p := range open {
			locked = locked.Add(p.Margin)
		}
		u, _ := l.LookupUser("u1")
		total := u.Balance["USDT"].Add(locked).Sub(u.TotalPnL)
		require.True(t, total.Equal(initial), "step %d: %s", i, total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l, _, _ := newTestLedger(t, 100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				placed, err := l.PlaceOrder(user, marketBuy("1", 10))
				if err == nil {
					_, _ = l.ClosePosition(user, placed.Position.ID)
				}
				l.UpdatePositionsPnL(100)
			}
		}(fmt.Sprintf("u%d", w))
	}
	wg.Wait()
	assert.Equal(t, 0, l.Stats().OpenPositions)
}

func TestSweeperRunOnce(t *testing.T) {
	l, prices, _ := newTestLedger(t, 0)
	s := NewSweeper(l, prices, time.Millisecond, logger.Nop("sweeper"))
	assert.False(t, s.RunOnce())

	prices.set(100)
	_, err := l.PlaceOrder("u1", limitReq(models.SideBuy, "1", "90", 10))
	require.NoError(t, err)
	prices.set(85)
	assert.True(t, s.RunOnce())

	open, _ := l.GetOpenPositions("u1")
	require.Len(t, open, 1)
	assert.True(t, open[0].PnL.Equal(d("-5")))
}

func TestSweeperStartStop(t *testing.T) {
	l, prices, _ := newTestLedger(t, 100)
	_, err := l.PlaceOrder("u1", marketBuy("1", 10))
	require.NoError(t, err)

	s := NewSweeper(l, prices, 5*time.Millisecond, logger.Nop("sweeper"))
	s.Start(t.Context())
	prices.set(110)

	assert.Eventually(t, func() bool {
		open, _ := l.GetOpenPositions("u1")
		return len(open) == 1 && open[0].PnL.Equal(d("10"))
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}
