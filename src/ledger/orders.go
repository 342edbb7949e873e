package ledger

import (
	"market-relay/src/analysis/core"
	"market-relay/src/helpers"
	"market-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// normalizeRequest fills defaults and rejects malformed requests. It does not
// touch ledger state.
func (l *TradingLedger) normalizeRequest(req models.MOrderRequest) (models.MOrderRequest, error) {
	if req.Symbol == "" {
		req.Symbol = l.limits.Symbol
	}
	if l.limits.Symbol != "" && req.Symbol != l.limits.Symbol {
		return req, helpers.NewValidationError(helpers.ReasonInvalidRequest, "unsupported symbol %s", req.Symbol)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return req, helpers.NewValidationError(helpers.ReasonInvalidRequest, "invalid side %q", req.Side)
	}
	if req.OrderType != models.OrderTypeMarket && req.OrderType != models.OrderTypeLimit {
		return req, helpers.NewValidationError(helpers.ReasonInvalidRequest, "invalid order type %q", req.OrderType)
	}
	if req.Leverage == 0 {
		req.Leverage = l.limits.DefaultLeverage
	}
	if req.Leverage < 1 {
		return req, helpers.NewValidationError(helpers.ReasonInvalidRequest, "leverage must be at least 1")
	}
	if req.Leverage > l.limits.MaxLeverage {
		return req, helpers.NewValidationError(helpers.ReasonLeverageTooHigh, "Maximum leverage is %dx", l.limits.MaxLeverage)
	}
	if req.Quantity.LessThan(l.limits.MinOrderAmount) {
		return req, helpers.NewValidationError(helpers.ReasonQuantityTooSmall, "Minimum order amount is %s", l.limits.MinOrderAmount)
	}
	if req.OrderType == models.OrderTypeLimit && (!req.Price.Valid || !req.Price.Decimal.IsPositive()) {
		return req, helpers.NewValidationError(helpers.ReasonInvalidRequest, "limit order requires a positive price")
	}
	return req, nil
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) openCountLocked(u *models.MUser) int {
	n := 0
	for _, id := range u.Positions {
		if p, ok := l.positions[id]; ok && p.Status == models.PositionOpen {
			n++
		}
	}
	return n
}

// -----------------------------------------------------------------------------
// PlaceOrder
// -----------------------------------------------------------------------------

// PlaceOrder validates and executes a market order at the current price, or
// records a pending limit order. A limit order whose trigger is already met
// fills immediately.
func (l *TradingLedger) PlaceOrder(userID string, req models.MOrderRequest) (models.MPlacement, error) {
	req, err := l.normalizeRequest(req)
	if err != nil {
		return models.MPlacement{}, err
	}

	// 1. Read the price before taking the ledger lock
	price, hasPrice := l.currentPrice()
	if req.OrderType == models.OrderTypeMarket && !hasPrice {
		return models.MPlacement{}, helpers.NewValidationError(helpers.ReasonMarketUnavailable, "Market data not available")
	}

	var events []models.MLedgerEvent
	result, err := func() (models.MPlacement, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		// 2. Per-user limits
		user := l.userLocked(userID)
		if l.openCountLocked(user) >= l.limits.MaxPositions {
			return models.MPlacement{}, helpers.NewValidationError(helpers.ReasonPositionLimitReached,
				"Maximum %d positions allowed", l.limits.MaxPositions)
		}

		now := l.nowMs()
		order := &models.MOrder{
			ID:        l.newID(),
			UserID:    userID,
			Symbol:    req.Symbol,
			Side:      req.Side,
			OrderType: req.OrderType,
			Quantity:  req.Quantity,
			Price:     req.Price,
			Leverage:  req.Leverage,
			Status:    models.OrderPending,
			CreatedAt: now,
		}

		// 3. Market orders execute now or not at all
		if req.OrderType == models.OrderTypeMarket {
			order.Price = decimal.NewNullDecimal(price)
			margin := core.ComputeMargin(order.Quantity, price, order.Leverage)
			if available := user.Balance[quoteCurrency]; available.LessThan(margin) {
				return models.MPlacement{}, helpers.NewInsufficientBalanceError(margin.String(), available.String())
			}

			pos := l.fillLocked(user, order, price, margin, now)
			l.orders[order.ID] = order
			user.Orders = append(user.Orders, order.ID)

			events = append(events,
				models.MLedgerEvent{Kind: models.LedgerPositionOpened, UserID: userID, Order: copyOrderPtr(order), Position: copyPositionPtr(pos)},
				l.balanceEventLocked(user),
			)
			return models.MPlacement{Order: *order, Position: copyPositionPtr(pos)}, nil
		}

		// 4. Limit orders wait for the sweep unless already triggered
		l.orders[order.ID] = order
		user.Orders = append(user.Orders, order.ID)
		events = append(events, models.MLedgerEvent{Kind: models.LedgerOrderPlaced, UserID: userID, Order: copyOrderPtr(order)})

		if hasPrice && limitTriggered(order, price) {
			events = append(events, l.fillLimitLocked(user, order, now)...)
		}

		placement := models.MPlacement{Order: *order}
		if order.PositionID != "" {
			placement.Position = copyPositionPtr(l.positions[order.PositionID])
		}
		return placement, nil
	}()
	if err != nil {
		return models.MPlacement{}, err
	}

	l.Logger.Info("Order %s placed for %s: %s %s %s", result.Order.ID, userID, result.Order.OrderType, result.Order.Side, result.Order.Quantity)
	l.publish(events)
	return result, nil
}

// -----------------------------------------------------------------------------

// limitTriggered: a buy fills at or below its price, a sell at or above.
func limitTriggered(o *models.MOrder, price decimal.Decimal) bool {
	if !o.Price.Valid {
		return false
	}
	if o.Side == models.SideBuy {
		return price.LessThanOrEqual(o.Price.Decimal)
	}
	return price.GreaterThanOrEqual(o.Price.Decimal)
}

// -----------------------------------------------------------------------------

// fillLimitLocked fills a triggered limit order at its own price, or cancels it
// when the user can no longer cover the margin.
func (l *TradingLedger) fillLimitLocked(user *models.MUser, order *models.MOrder, now int64) []models.MLedgerEvent {
	if order.Status != models.OrderPending {
		return nil
	}

	price := order.Price.Decimal
	margin := core.ComputeMargin(order.Quantity, price, order.Leverage)
	if user.Balance[quoteCurrency].LessThan(margin) {
		order.Status = models.OrderCancelled
		order.CancelledAt = now
		l.Logger.Warning("Limit order %s cancelled: insufficient balance for margin %s", order.ID, margin)
		return []models.MLedgerEvent{{Kind: models.LedgerOrderCancelled, UserID: user.ID, Order: copyOrderPtr(order)}}
	}

	pos := l.fillLocked(user, order, price, margin, now)
	return []models.MLedgerEvent{
		{Kind: models.LedgerOrderFilled, UserID: user.ID, Order: copyOrderPtr(order), Position: copyPositionPtr(pos)},
		l.balanceEventLocked(user),
	}
}

// -----------------------------------------------------------------------------

// fillLocked debits margin and opens the position backing order.
func (l *TradingLedger) fillLocked(user *models.MUser, order *models.MOrder, price, margin decimal.Decimal, now int64) *models.MPosition {
	user.Balance[quoteCurrency] = user.Balance[quoteCurrency].Sub(margin)

	pos := &models.MPosition{
		ID:           l.newID(),
		UserID:       user.ID,
		OrderID:      order.ID,
		Symbol:       order.Symbol,
		Side:         order.Side,
		Quantity:     order.Quantity,
		EntryPrice:   price,
		Leverage:     order.Leverage,
		Margin:       margin,
		Status:       models.PositionOpen,
		PnL:          decimal.Zero,
		CurrentPrice: decimal.NewNullDecimal(price),
		OpenedAt:     now,
	}
	l.positions[pos.ID] = pos
	user.Positions = append(user.Positions, pos.ID)

	order.Status = models.OrderFilled
	order.FilledAt = now
	order.PositionID = pos.ID
	return pos
}

// -----------------------------------------------------------------------------
// CancelOrder
// -----------------------------------------------------------------------------

func (l *TradingLedger) CancelOrder(userID, orderID string) (models.MOrder, error) {
	l.mu.Lock()
	order, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return models.MOrder{}, helpers.NewNotFoundError("Order", orderID)
	}
	if order.UserID != userID {
		l.mu.Unlock()
		return models.MOrder{}, helpers.NewOwnershipError("Order", orderID)
	}
	if order.Status != models.OrderPending {
		l.mu.Unlock()
		return models.MOrder{}, helpers.NewInvalidStateError("Order %s is %s", orderID, order.Status)
	}

	order.Status = models.OrderCancelled
	order.CancelledAt = l.nowMs()
	result := *order
	l.mu.Unlock()

	l.Logger.Info("Order %s cancelled by %s", orderID, userID)
	l.publish([]models.MLedgerEvent{{Kind: models.LedgerOrderCancelled, UserID: userID, Order: &result}})
	return result, nil
}

// -----------------------------------------------------------------------------
// CheckPendingOrders
// -----------------------------------------------------------------------------

// CheckPendingOrders fills every pending limit order triggered by price. Each
// user is processed in isolation so one fault does not stop the sweep.
func (l *TradingLedger) CheckPendingOrders(price float64) {
	if price <= 0 {
		return
	}
	p := decimal.NewFromFloat(price)

	var events []models.MLedgerEvent
	l.mu.Lock()
	now := l.nowMs()
	for _, userID := range sortedUserIDs(l.users) {
		user := l.users[userID]
		var userEvents []models.MLedgerEvent
		err := l.errors.Guard("check pending orders for "+userID, func() error {
			for _, id := range user.Orders {
				order, ok := l.orders[id]
				if !ok || order.Status != models.OrderPending || !limitTriggered(order, p) {
					continue
				}
				userEvents = append(userEvents, l.fillLimitLocked(user, order, now)...)
			}
			return nil
		})
		events = append(events, userEvents...)
		if err != nil {
			events = append(events, l.resyncEventsLocked(user)...)
		}
	}
	l.mu.Unlock()

	l.publish(events)
}

// -----------------------------------------------------------------------------

func (l *TradingLedger) balanceEventLocked(user *models.MUser) models.MLedgerEvent {
	return models.MLedgerEvent{Kind: models.LedgerBalanceUpdated, UserID: user.ID, Balance: copyBalance(user.Balance)}
}

func copyOrderPtr(o *models.MOrder) *models.MOrder {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
