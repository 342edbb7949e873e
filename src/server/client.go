package server

import (
	"time"

	"market-relay/src/models"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one WebSocket connection. Its userID is the account it trades on.
type Client struct {
	hub     *RelayServer
	conn    *websocket.Conn
	send    chan models.MEnvelope
	userID  string
	limiter *rate.Limiter
}

func newClient(hub *RelayServer, conn *websocket.Conn, userID string) *Client {
	limit := rate.Limit(hub.Config.Server.ClientRateLimit)
	if limit <= 0 {
		limit = rate.Inf
	}
	burst := hub.Config.Server.ClientRateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan models.MEnvelope, sendBuffer),
		userID:  userID,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// -----------------------------------------------------------------------------
// readPump - handles intents from the client
// Acts as the watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.SendToUser(c.userID, errorEnvelope("rate limited"))
			continue
		}
		c.hub.Dispatch(c.userID, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends envelopes to the client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(env)
			if err != nil {
				c.hub.Logger.Error("Encode %s for %s: %v", env.Type, c.userID, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
