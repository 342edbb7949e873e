package models

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Wire Envelope
// -----------------------------------------------------------------------------

// Outbound event types
const (
	EventConnection            = "connection"
	EventTicker                = "ticker"
	EventOrderBook             = "orderbook"
	EventCandles               = "candles"
	EventOrderResponse         = "order_response"
	EventClosePositionResponse = "close_position_response"
	EventCancelOrderResponse   = "cancel_order_response"
	EventBalanceUpdate         = "balance_update"
	EventPositionUpdate        = "position_update"
	EventOrderUpdate           = "order_update"
	EventTradeUpdate           = "trade_update"
	EventError                 = "error"
)

// Inbound intent types
const (
	IntentSubscribe     = "subscribe"
	IntentPlaceOrder    = "place_order"
	IntentCancelOrder   = "cancel_order"
	IntentClosePosition = "close_position"
	IntentGetBalance    = "get_balance"
	IntentGetPositions  = "get_positions"
	IntentGetOrders     = "get_orders"
	IntentGetTrades     = "get_trades"
)

type MEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MInboundEnvelope keeps data raw until the intent type is known.
type MInboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type MResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type MConnectionInfo struct {
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

type MErrorMessage struct {
	Message string `json:"message"`
}

// -----------------------------------------------------------------------------
// Ledger Events
// -----------------------------------------------------------------------------

type MLedgerEventKind string

const (
	LedgerPositionOpened  MLedgerEventKind = "position_opened"
	LedgerPositionClosed  MLedgerEventKind = "position_closed"
	LedgerPositionUpdated MLedgerEventKind = "position_updated"
	LedgerOrderPlaced     MLedgerEventKind = "order_placed"
	LedgerOrderFilled     MLedgerEventKind = "order_filled"
	LedgerOrderCancelled  MLedgerEventKind = "order_cancelled"
	LedgerBalanceUpdated  MLedgerEventKind = "balance_updated"
)

// MLedgerEvent carries copies, never pointers into ledger state.
type MLedgerEvent struct {
	Kind      MLedgerEventKind
	UserID    string
	Order     *MOrder
	Position  *MPosition
	Positions []MPosition
	Trade     *MTrade
	Balance   map[string]decimal.Decimal
}
