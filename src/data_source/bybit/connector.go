package bybit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"market-relay/src/helpers"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Connection states.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateSubscribed   = "subscribed"
)

const writeTimeout = 5 * time.Second

// MessageHandler receives every topic frame in arrival order.
type MessageHandler func(models.MRawMessage)

// -----------------------------------------------------------------------------
// Connector
// -----------------------------------------------------------------------------

// Connector keeps one public stream subscription alive. It reconnects forever
// with exponential backoff until Stop is called.
type Connector struct {
	url       string
	topics    []string
	userAgent string
	handler   MessageHandler
	Logger    *logger.Logger

	pingInterval  time.Duration
	reconnectBase time.Duration
	reconnectMax  time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	state       atomic.Value
	reconnects  atomic.Int64
	lastMessage atomic.Int64
	forced      atomic.Bool
}

// -----------------------------------------------------------------------------

func NewConnector(cfg *models.MConfig, handler MessageHandler, log *logger.Logger) *Connector {
	ping := cfg.Intervals.Ping()
	if ping <= 0 {
		ping = 20 * time.Second
	}
	base := cfg.Intervals.Reconnect()
	if base <= 0 {
		base = 5 * time.Second
	}
	maxDelay := cfg.Intervals.ReconnectMax()
	if maxDelay < base {
		maxDelay = base
	}

	c := &Connector{
		url:           cfg.Feed.WSURL,
		topics:        Topics(cfg.Feed),
		userAgent:     cfg.Network.UserAgent,
		handler:       handler,
		Logger:        log,
		pingInterval:  ping,
		reconnectBase: base,
		reconnectMax:  maxDelay,
	}
	c.state.Store(StateDisconnected)
	return c
}

// -----------------------------------------------------------------------------

// Topics lists the stream subscriptions for the configured symbol.
func Topics(feed models.MFeedConfig) []string {
	return []string{
		"tickers." + feed.Symbol,
		fmt.Sprintf("orderbook.%d.%s", feed.OrderbookDepth, feed.Symbol),
		fmt.Sprintf("kline.%s.%s", feed.CandleInterval, feed.Symbol),
	}
}

// -----------------------------------------------------------------------------

// SetHandler replaces the message handler. Call before Start.
func (c *Connector) SetHandler(h MessageHandler) {
	c.runMu.Lock()
	c.handler = h
	c.runMu.Unlock()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (c *Connector) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("connector for %s is already running", c.url)
	}
	if c.handler == nil {
		return fmt.Errorf("connector for %s has no handler", c.url)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	c.Logger.Info("Connector started: %s %v", c.url, c.topics)
	return nil
}

// -----------------------------------------------------------------------------

// Stop cancels the heartbeat and reconnect timers first, then closes the
// connection and waits for the loop to exit.
func (c *Connector) Stop() error {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.runMu.Unlock()

	if cancel == nil {
		return fmt.Errorf("connector for %s is not running", c.url)
	}

	cancel()
	c.closeConn()
	<-done
	c.setState(StateDisconnected)
	c.Logger.Info("Connector stopped")
	return nil
}

// -----------------------------------------------------------------------------

// ForceReconnect drops the live connection; the loop dials again immediately.
func (c *Connector) ForceReconnect() {
	c.forced.Store(true)
	if !c.closeConn() {
		c.forced.Store(false)
		c.Logger.Info("Force reconnect requested while not connected")
		return
	}
	c.Logger.Info("Force reconnect requested")
}

// -----------------------------------------------------------------------------
// Status
// -----------------------------------------------------------------------------

func (c *Connector) State() string {
	return c.state.Load().(string)
}

func (c *Connector) ReconnectCount() int64 {
	return c.reconnects.Load()
}

// LastMessageAt is the epoch-millisecond time of the last inbound frame.
func (c *Connector) LastMessageAt() int64 {
	return c.lastMessage.Load()
}

func (c *Connector) setState(s string) {
	if prev := c.state.Swap(s); prev != s {
		c.Logger.Debug("State %v -> %s", prev, s)
	}
}

// -----------------------------------------------------------------------------
// Connect loop
// -----------------------------------------------------------------------------

func (c *Connector) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectBase
	bo.MaxInterval = c.reconnectMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()
	return bo
}

func (c *Connector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	bo := c.newBackOff()

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if attempt > 0 {
			c.reconnects.Add(1)
		}

		err := c.session(ctx, bo)
		c.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		// 1. Forced reconnects skip the delay
		delay := bo.NextBackOff()
		if c.forced.Swap(false) {
			delay = 0
		}
		c.Logger.Warning("Feed disconnected: %v; reconnecting in %s", err, delay)

		// 2. The reconnect timer is owned by this loop and dies with ctx
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// -----------------------------------------------------------------------------

// session runs one connection from dial to close.
func (c *Connector) session(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	c.setState(StateConnecting)

	// 1. Dial
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	header := make(http.Header)
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return helpers.NewUpstreamTransientError("dial", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer c.closeConn()
	unblock := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer unblock()

	// 2. Subscribe
	if err := c.writeJSON(conn, map[string]interface{}{"op": "subscribe", "args": c.topics}); err != nil {
		return helpers.NewUpstreamTransientError("subscribe", err)
	}
	c.setState(StateSubscribed)
	bo.Reset()
	c.Logger.Info("Subscribed to %v", c.topics)

	// 3. Heartbeat for the life of this session only
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.heartbeat(hbCtx, conn)

	// 4. Read until the connection closes; silence alone is not a failure
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return helpers.NewUpstreamTransientError("read", err)
		}
		c.lastMessage.Store(time.Now().UnixMilli())
		c.dispatch(msg)
	}
}

// -----------------------------------------------------------------------------

func (c *Connector) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, map[string]string{"op": "ping"}); err != nil {
				c.Logger.Warning("Ping failed: %v", err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// frame is the envelope of every stream message.
type frame struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
}

func (c *Connector) dispatch(msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		c.Logger.Warning("Skipping unparseable frame: %v", helpers.NewUpstreamTransientError("decode frame", err))
		return
	}

	switch {
	case f.Topic != "":
		c.handler(models.MRawMessage{Topic: f.Topic, Type: f.Type, Ts: f.Ts, Data: f.Data})
	case f.Op == "pong" || f.Success != nil:
		c.Logger.Debug("Control frame op=%s ret=%s", f.Op, f.RetMsg)
	default:
		c.Logger.Debug("Ignoring frame without topic")
	}
}

// -----------------------------------------------------------------------------

func (c *Connector) writeJSON(conn *websocket.Conn, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// -----------------------------------------------------------------------------

func (c *Connector) closeConn() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return false
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.Logger.Debug("Close: %v", err)
	}
	c.conn = nil
	return true
}
