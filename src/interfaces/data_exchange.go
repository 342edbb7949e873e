package interfaces

import "market-relay/src/models"

// -----------------------------------------------------------------------------
// IBroadcaster pushes one envelope to every connected client.
// -----------------------------------------------------------------------------

type IBroadcaster interface {
	Broadcast(envelope models.MEnvelope)
}

// -----------------------------------------------------------------------------
// IDataExchanger defining the interface for sharing data with connected clients.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	IBroadcaster

	// -----------------------------------------------------------------------------
	// SendToUser delivers an envelope to every connection owned by userID.
	SendToUser(userID string, envelope models.MEnvelope)

	// -----------------------------------------------------------------------------
	// Start the server
	Start() error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop() error
}
