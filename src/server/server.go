package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"market-relay/src/analysis"
	"market-relay/src/helpers"
	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// -----------------------------------------------------------------------------
// RelayServer
// -----------------------------------------------------------------------------

// RelayServer serves the WebSocket relay and the read-only REST API. The client
// registry is owned by the hub goroutine; everything else talks to it through
// channels.
type RelayServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	ledger interfaces.ITradingLedger
	market interfaces.IMarketView
	feed   interfaces.IFeedSource

	// Hub state, touched only by run()
	clients map[*Client]struct{}
	byUser  map[string]*Client

	broadcast  chan models.MEnvelope
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}

	clientCount atomic.Int64
	hubOnce     sync.Once
	stopOnce    sync.Once
	hubDone     chan struct{}
}

type directMessage struct {
	userID   string
	envelope models.MEnvelope
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewRelayServer(cfg *models.MConfig, ledger interfaces.ITradingLedger, market interfaces.IMarketView, log *logger.Logger) *RelayServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &RelayServer{
		Config:     cfg,
		Logger:     log,
		engine:     engine,
		ledger:     ledger,
		market:     market,
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[string]*Client),
		broadcast:  make(chan models.MEnvelope, 256),
		direct:     make(chan directMessage, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		hubDone:    make(chan struct{}),
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Cache-Control", "X-Requested-With"},
		AllowCredentials: true,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           corsHandler.Handler(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------

// SetFeed attaches the upstream feed for health reporting.
func (s *RelayServer) SetFeed(feed interfaces.IFeedSource) {
	s.feed = feed
}

// -----------------------------------------------------------------------------

// Handler exposes the full HTTP stack, CORS included.
func (s *RelayServer) Handler() http.Handler {
	return s.http.Handler
}

// -----------------------------------------------------------------------------

// ClientCount is the number of registered WebSocket clients.
func (s *RelayServer) ClientCount() int {
	return int(s.clientCount.Load())
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *RelayServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/market", s.getMarket)
	api.GET("/market/candles", s.getCandles)
	api.GET("/config", s.getConfig)

	users := api.Group("/users/:id")
	users.GET("/balance", s.getUserBalance)
	users.GET("/positions", s.getUserPositions)
	users.GET("/orders", s.getUserOrders)
	users.GET("/trades", s.getUserTrades)

	s.engine.GET("/ws", s.handleWebSocket)
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// StartHub launches the hub goroutine. Start calls it; tests that only need
// Handler call it directly.
func (s *RelayServer) StartHub() {
	s.hubOnce.Do(func() { go s.run() })
}

// -----------------------------------------------------------------------------

// Start binds the listener and serves in the background.
func (s *RelayServer) Start() error {
	s.StartHub()

	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.Logger.Info("Starting server on %s", ln.Addr())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("Server failed: %v", err)
		}
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (s *RelayServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting connections, then closes every client.
func (s *RelayServer) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.stopOnce.Do(func() {
		close(s.quit)
		s.hubOnce.Do(func() { close(s.hubDone) })
	})
	select {
	case <-s.hubDone:
	case <-ctx.Done():
	}
	s.Logger.Info("Server stopped")
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *RelayServer) getHealth(c *gin.Context) {
	snap := s.market.Snapshot()

	feed := gin.H{"state": "disconnected", "reconnects": int64(0)}
	if s.feed != nil {
		feed = gin.H{"state": s.feed.State(), "reconnects": s.feed.ReconnectCount()}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": s.ClientCount(),
		"feed":    feed,
		"marketData": gin.H{
			"lastUpdate": snap.LastUpdate,
			"ticker":     snap.Ticker,
		},
	})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.market.Snapshot())
}

// -----------------------------------------------------------------------------

// getCandles serves the candle series, optionally folded into a wider interval
// (?interval=5 for 5 minutes, D, W).
func (s *RelayServer) getCandles(c *gin.Context) {
	candles := s.market.Snapshot().Candles
	interval := c.Query("interval")
	if interval == "" || interval == s.Config.Feed.CandleInterval {
		c.JSON(http.StatusOK, candles)
		return
	}

	window, err := analysis.IntervalSeconds(interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	base, err := analysis.IntervalSeconds(s.Config.Feed.CandleInterval)
	if err == nil && (window < base || window%base != 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("interval %s is not a multiple of %s", interval, s.Config.Feed.CandleInterval)})
		return
	}
	c.JSON(http.StatusOK, analysis.ResampleCandles(candles, window))
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbol":          s.Config.Feed.Symbol,
		"candleInterval":  s.Config.Feed.CandleInterval,
		"initialBalance":  s.Config.Trading.InitialBalance,
		"defaultLeverage": s.Config.Trading.DefaultLeverage,
		"maxLeverage":     s.Config.Trading.MaxLeverage,
		"minOrderAmount":  s.Config.Trading.MinOrderAmount,
		"maxPositions":    s.Config.Trading.MaxPositions,
	})
}

// -----------------------------------------------------------------------------

func (s *RelayServer) getUserBalance(c *gin.Context) {
	balance, err := s.ledger.GetBalance(c.Param("id"))
	s.respond(c, balance, err)
}

func (s *RelayServer) getUserPositions(c *gin.Context) {
	positions, err := s.ledger.GetOpenPositions(c.Param("id"))
	s.respond(c, positions, err)
}

func (s *RelayServer) getUserOrders(c *gin.Context) {
	orders, err := s.ledger.GetPendingOrders(c.Param("id"))
	s.respond(c, orders, err)
}

func (s *RelayServer) getUserTrades(c *gin.Context) {
	trades, err := s.ledger.GetTrades(c.Param("id"))
	s.respond(c, trades, err)
}

// -----------------------------------------------------------------------------

func (s *RelayServer) respond(c *gin.Context, data interface{}, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, data)
	case helpers.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.Logger.Error("Request %s failed: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
