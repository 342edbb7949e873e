package models

import "github.com/shopspring/decimal"

type MSide string

const (
	SideBuy  MSide = "buy"
	SideSell MSide = "sell"
)

type MOrderType string

const (
	OrderTypeMarket MOrderType = "market"
	OrderTypeLimit  MOrderType = "limit"
)

type MOrderStatus string

const (
	OrderPending   MOrderStatus = "pending"
	OrderFilled    MOrderStatus = "filled"
	OrderCancelled MOrderStatus = "cancelled"
)

type MPositionStatus string

const (
	PositionOpen   MPositionStatus = "open"
	PositionClosed MPositionStatus = "closed"
)

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

type MOrderRequest struct {
	Symbol    string              `json:"symbol"`
	Side      MSide               `json:"side"`
	OrderType MOrderType          `json:"orderType"`
	Quantity  decimal.Decimal     `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	Leverage  int                 `json:"leverage"`
}

type MCancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

type MClosePositionRequest struct {
	PositionID string `json:"positionId"`
}

// -----------------------------------------------------------------------------
// Ledger Records
// -----------------------------------------------------------------------------

// MUser timestamps are epoch milliseconds, like every ledger record.
type MUser struct {
	ID        string                     `json:"id"`
	Balance   map[string]decimal.Decimal `json:"balance"`
	Orders    []string                   `json:"orders"`
	Positions []string                   `json:"positions"`
	Trades    []MTrade                   `json:"trades"`
	TotalPnL  decimal.Decimal            `json:"totalPnL"`
	CreatedAt int64                      `json:"createdAt"`
}

type MOrder struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Symbol      string              `json:"symbol"`
	Side        MSide               `json:"side"`
	OrderType   MOrderType          `json:"orderType"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.NullDecimal `json:"price"`
	Leverage    int                 `json:"leverage"`
	Status      MOrderStatus        `json:"status"`
	PositionID  string              `json:"positionId,omitempty"`
	CreatedAt   int64               `json:"createdAt"`
	FilledAt    int64               `json:"filledAt,omitempty"`
	CancelledAt int64               `json:"cancelledAt,omitempty"`
}

type MPosition struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	OrderID      string              `json:"orderId,omitempty"`
	Symbol       string              `json:"symbol"`
	Side         MSide               `json:"side"`
	Quantity     decimal.Decimal     `json:"quantity"`
	EntryPrice   decimal.Decimal     `json:"entryPrice"`
	Leverage     int                 `json:"leverage"`
	Margin       decimal.Decimal     `json:"margin"`
	Status       MPositionStatus     `json:"status"`
	PnL          decimal.Decimal     `json:"pnl"`
	CurrentPrice decimal.NullDecimal `json:"currentPrice"`
	OpenedAt     int64               `json:"openedAt"`
	ClosedAt     int64               `json:"closedAt,omitempty"`
	ExitPrice    decimal.NullDecimal `json:"exitPrice"`
	RealizedPnL  decimal.NullDecimal `json:"realizedPnL"`
}

type MTrade struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Side       MSide           `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	ExitPrice  decimal.Decimal `json:"exitPrice"`
	PnL        decimal.Decimal `json:"pnl"`
	Timestamp  int64           `json:"timestamp"`
}

// MPlacement is the result of placing an order. Position is set when the order
// filled immediately.
type MPlacement struct {
	Order    MOrder     `json:"order"`
	Position *MPosition `json:"position,omitempty"`
}

// MLedgerStats are process-wide counters.
type MLedgerStats struct {
	Users         int `json:"users"`
	OpenPositions int `json:"openPositions"`
	PendingOrders int `json:"pendingOrders"`
	ClosedTrades  int `json:"closedTrades"`
}

// MAccountStats summarizes closed trades; floats are for display only.
type MAccountStats struct {
	TradeCount  int     `json:"tradeCount"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"winRate"`
	TotalPnL    float64 `json:"totalPnL"`
	MeanPnL     float64 `json:"meanPnL"`
	StdPnL      float64 `json:"stdPnL"`
	BestTrade   float64 `json:"bestTrade"`
	WorstTrade  float64 `json:"worstTrade"`
	MaxDrawdown float64 `json:"maxDrawdown"`
}
