package models

import "github.com/goccy/go-json"

// -----------------------------------------------------------------------------
// Market State
// -----------------------------------------------------------------------------

// MTicker is replaced wholesale on every ticker message.
type MTicker struct {
	Symbol        string  `json:"symbol"`
	Last          float64 `json:"last"`
	Change24h     float64 `json:"change24h"`
	ChangePercent float64 `json:"changePercent"`
	Volume        float64 `json:"volume"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
}

// MPriceLevel is [price, size], the same shape the exchange sends.
type MPriceLevel [2]float64

func (l MPriceLevel) Price() float64 { return l[0] }
func (l MPriceLevel) Size() float64  { return l[1] }

type MOrderBook struct {
	Bids []MPriceLevel `json:"bids"`
	Asks []MPriceLevel `json:"asks"`
}

// MCandle time is epoch seconds aligned to the candle interval.
type MCandle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// MMarketSnapshot is a deep copy of the normalized state. LastUpdate is epoch ms.
type MMarketSnapshot struct {
	Symbol     string     `json:"symbol"`
	Ticker     MTicker    `json:"ticker"`
	OrderBook  MOrderBook `json:"orderbook"`
	Candles    []MCandle  `json:"candles"`
	LastUpdate int64      `json:"lastUpdate"`
}

// MRawMessage is one upstream topic frame. Type is "snapshot" or "delta" for
// order book topics and empty otherwise.
type MRawMessage struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}
