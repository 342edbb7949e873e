package interfaces

import (
	"market-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// ITradingLedger is the user-scoped trading surface used by the transports.
// -----------------------------------------------------------------------------

type ITradingLedger interface {
	GetOrCreateUser(userID string) models.MUser
	LookupUser(userID string) (models.MUser, error)

	// -----------------------------------------------------------------------------

	PlaceOrder(userID string, req models.MOrderRequest) (models.MPlacement, error)
	CancelOrder(userID, orderID string) (models.MOrder, error)
	ClosePosition(userID, positionID string) (models.MPosition, error)

	// -----------------------------------------------------------------------------

	GetBalance(userID string) (map[string]decimal.Decimal, error)
	GetOpenPositions(userID string) ([]models.MPosition, error)
	GetPendingOrders(userID string) ([]models.MOrder, error)
	GetTrades(userID string) ([]models.MTrade, error)
	Stats() models.MLedgerStats
}

// -----------------------------------------------------------------------------
// IMarketView is a read-only view of the canonical market state.
// -----------------------------------------------------------------------------

type IMarketView interface {
	IPriceSource

	// Snapshot returns a deep copy.
	Snapshot() models.MMarketSnapshot
}
