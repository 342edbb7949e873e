package interfaces

import (
	"context"

	"market-relay/src/models"
)

// -----------------------------------------------------------------------------
// IFeedSource is a long-lived upstream market-data connection.
// -----------------------------------------------------------------------------

type IFeedSource interface {

	// Start begins the connect loop. It returns immediately; the loop runs until
	// ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Stop cancels pending timers, then closes the connection.
	Stop() error

	// -----------------------------------------------------------------------------

	// State reports the connection state name.
	State() string

	// -----------------------------------------------------------------------------

	// ReconnectCount is the number of reconnects since Start.
	ReconnectCount() int64

	// -----------------------------------------------------------------------------

	// ForceReconnect drops the current connection so the loop dials again.
	ForceReconnect()
}

// -----------------------------------------------------------------------------
// ICandleBootstrapper loads candle history before the stream starts.
// -----------------------------------------------------------------------------

type ICandleBootstrapper interface {

	// FetchInitialCandles returns candles oldest first.
	FetchInitialCandles(ctx context.Context) ([]models.MCandle, error)
}
