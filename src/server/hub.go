package server

import (
	"net/http"

	"market-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Loop
// -----------------------------------------------------------------------------

// run is the only goroutine that touches clients and byUser.
func (s *RelayServer) run() {
	defer close(s.hubDone)

	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.byUser[client.userID] = client
			s.clientCount.Store(int64(len(s.clients)))
			s.Logger.Info("Client connected: %s (%d total)", client.userID, len(s.clients))
			s.welcome(client)

		case client := <-s.unregister:
			s.drop(client)

		case env := <-s.broadcast:
			for client := range s.clients {
				s.deliver(client, env)
			}

		case msg := <-s.direct:
			if client, ok := s.byUser[msg.userID]; ok {
				s.deliver(client, msg.envelope)
			}

		case <-s.quit:
			for client := range s.clients {
				s.drop(client)
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

// deliver never blocks the hub; a client that cannot keep up is dropped.
func (s *RelayServer) deliver(client *Client, env models.MEnvelope) {
	select {
	case client.send <- env:
	default:
		s.Logger.Warning("Client %s too slow, disconnecting", client.userID)
		s.drop(client)
	}
}

func (s *RelayServer) drop(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	if s.byUser[client.userID] == client {
		delete(s.byUser, client.userID)
	}
	close(client.send)
	s.clientCount.Store(int64(len(s.clients)))
	s.Logger.Info("Client disconnected: %s", client.userID)
}

// -----------------------------------------------------------------------------

// welcome queues the on-connect sequence: connection, market state, then the
// user's account.
func (s *RelayServer) welcome(client *Client) {
	user := s.ledger.GetOrCreateUser(client.userID)
	snap := s.market.Snapshot()

	envs := []models.MEnvelope{
		{Type: models.EventConnection, Data: models.MConnectionInfo{ClientID: client.userID, Message: "Connected to market relay"}},
		{Type: models.EventTicker, Data: snap.Ticker},
		{Type: models.EventOrderBook, Data: snap.OrderBook},
		{Type: models.EventCandles, Data: snap.Candles},
		{Type: models.EventBalanceUpdate, Data: user.Balance},
		s.positionsEnvelope(client.userID),
		s.ordersEnvelope(client.userID),
	}
	for _, env := range envs {
		s.deliver(client, env)
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast queues env for every client.
func (s *RelayServer) Broadcast(env models.MEnvelope) {
	select {
	case s.broadcast <- env:
	case <-s.quit:
	}
}

// SendToUser queues env for the connection owned by userID.
func (s *RelayServer) SendToUser(userID string, env models.MEnvelope) {
	select {
	case s.direct <- directMessage{userID: userID, envelope: env}:
	case <-s.quit:
	}
}

// -----------------------------------------------------------------------------
// Ledger Event Sink
// -----------------------------------------------------------------------------

// PublishLedgerEvents turns ledger events into account updates for their owner.
func (s *RelayServer) PublishLedgerEvents(events []models.MLedgerEvent) {
	for _, e := range events {
		switch e.Kind {
		case models.LedgerBalanceUpdated:
			s.SendToUser(e.UserID, models.MEnvelope{Type: models.EventBalanceUpdate, Data: e.Balance})

		case models.LedgerPositionUpdated:
			s.SendToUser(e.UserID, models.MEnvelope{Type: models.EventPositionUpdate, Data: e.Positions})

		case models.LedgerPositionOpened:
			s.SendToUser(e.UserID, s.positionsEnvelope(e.UserID))

		case models.LedgerPositionClosed:
			s.SendToUser(e.UserID, s.positionsEnvelope(e.UserID))
			s.SendToUser(e.UserID, s.tradesEnvelope(e.UserID))

		case models.LedgerOrderPlaced, models.LedgerOrderCancelled:
			s.SendToUser(e.UserID, s.ordersEnvelope(e.UserID))

		case models.LedgerOrderFilled:
			s.SendToUser(e.UserID, s.ordersEnvelope(e.UserID))
			s.SendToUser(e.UserID, s.positionsEnvelope(e.UserID))
		}
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *RelayServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Warning("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(s, conn, uuid.NewString())
	select {
	case s.register <- client:
	case <-s.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
