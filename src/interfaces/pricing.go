package interfaces

import "market-relay/src/models"

// -----------------------------------------------------------------------------
// IPriceSource exposes the latest traded price, read at call time.
// -----------------------------------------------------------------------------

type IPriceSource interface {
	// CurrentPrice returns false until the first ticker has been seen.
	CurrentPrice() (float64, bool)
}

// -----------------------------------------------------------------------------
// ILedgerEventSink receives ledger events after the ledger lock is released.
// -----------------------------------------------------------------------------

type ILedgerEventSink interface {
	PublishLedgerEvents(events []models.MLedgerEvent)
}
