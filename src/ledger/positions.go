package ledger

import (
	"market-relay/src/analysis/core"
	"market-relay/src/helpers"
	"market-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// ClosePosition
// -----------------------------------------------------------------------------

// ClosePosition settles an open position at its last marked price, falling back
// to the entry price when it was never marked. Margin plus PnL returns to the
// quote balance and a trade is appended to the user's history.
func (l *TradingLedger) ClosePosition(userID, positionID string) (models.MPosition, error) {
	l.mu.Lock()
	pos, ok := l.positions[positionID]
	if !ok {
		l.mu.Unlock()
		return models.MPosition{}, helpers.NewNotFoundError("Position", positionID)
	}
	if pos.UserID != userID {
		l.mu.Unlock()
		return models.MPosition{}, helpers.NewOwnershipError("Position", positionID)
	}
	if pos.Status != models.PositionOpen {
		l.mu.Unlock()
		return models.MPosition{}, helpers.NewInvalidStateError("Position %s is already closed", positionID)
	}
	user := l.userLocked(userID)

	// 1. Exit price and realized PnL
	exit := pos.EntryPrice
	if pos.CurrentPrice.Valid {
		exit = pos.CurrentPrice.Decimal
	}
	pnl := core.ComputePnL(pos.Side, pos.EntryPrice, exit, pos.Quantity)
	now := l.nowMs()

	// 2. Settle
	user.Balance[quoteCurrency] = user.Balance[quoteCurrency].Add(pos.Margin).Add(pnl)
	user.TotalPnL = user.TotalPnL.Add(pnl)

	pos.Status = models.PositionClosed
	pos.ClosedAt = now
	pos.ExitPrice = decimal.NewNullDecimal(exit)
	pos.RealizedPnL = decimal.NewNullDecimal(pnl)
	pos.PnL = pnl

	// 3. History
	trade := models.MTrade{
		ID:         l.newID(),
		UserID:     userID,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		PnL:        pnl,
		Timestamp:  now,
	}
	user.Trades = append(user.Trades, trade)

	result := *pos
	events := []models.MLedgerEvent{
		{Kind: models.LedgerPositionClosed, UserID: userID, Position: copyPositionPtr(pos), Trade: &trade},
		l.balanceEventLocked(user),
	}
	l.mu.Unlock()

	l.Logger.Info("Position %s closed for %s at %s, pnl %s", positionID, userID, exit, pnl)
	l.publish(events)
	return result, nil
}

// -----------------------------------------------------------------------------
// UpdatePositionsPnL
// -----------------------------------------------------------------------------

// UpdatePositionsPnL marks every open position to price and emits one
// position_updated event per affected user.
func (l *TradingLedger) UpdatePositionsPnL(price float64) {
	if price <= 0 {
		return
	}
	p := decimal.NewFromFloat(price)

	var events []models.MLedgerEvent
	l.mu.Lock()
	for _, userID := range sortedUserIDs(l.users) {
		user := l.users[userID]
		var event *models.MLedgerEvent
		err := l.errors.Guard("update pnl for "+userID, func() error {
			touched := false
			for _, id := range user.Positions {
				pos, ok := l.positions[id]
				if !ok || pos.Status != models.PositionOpen {
					continue
				}
				pos.CurrentPrice = decimal.NewNullDecimal(p)
				pos.PnL = core.ComputePnL(pos.Side, pos.EntryPrice, p, pos.Quantity)
				touched = true
			}
			if touched {
				event = &models.MLedgerEvent{
					Kind:      models.LedgerPositionUpdated,
					UserID:    userID,
					Positions: l.openPositionsLocked(user),
				}
			}
			return nil
		})
		switch {
		case err != nil:
			events = append(events, l.resyncEventsLocked(user)...)
		case event != nil:
			events = append(events, *event)
		}
	}
	l.mu.Unlock()

	l.publish(events)
}

// -----------------------------------------------------------------------------

func copyPositionPtr(p *models.MPosition) *models.MPosition {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
