package interfaces

import "market-relay/src/models"

// -----------------------------------------------------------------------------
// IJournal defines the contract for the write-only trade journal.
// -----------------------------------------------------------------------------

type IJournal interface {

	// -----------------------------------------------------------------------------

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveTrades inserts closed position outcomes.
	SaveTrades(trades []models.MTrade) error

	// -----------------------------------------------------------------------------
	// SaveOrders upserts order records by id.
	SaveOrders(orders []models.MOrder) error

	// -----------------------------------------------------------------------------
	// SaveCandles upserts closed candles for a symbol and interval.
	SaveCandles(symbol, interval string, candles []models.MCandle) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
