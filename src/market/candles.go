package market

import (
	"market-relay/src/models"
	"market-relay/src/utils"
)

// -----------------------------------------------------------------------------
// CandleAggregator
// -----------------------------------------------------------------------------

// CandleAggregator keeps at most one candle per time bucket, oldest first,
// bounded by a ring buffer. Bucket starts are stored as the exchange sends
// them. Not safe for concurrent use.
type CandleAggregator struct {
	series *utils.RingBuffer[models.MCandle]
}

// -----------------------------------------------------------------------------

func NewCandleAggregator(maxCandles int) *CandleAggregator {
	if maxCandles <= 0 {
		maxCandles = 200
	}
	return &CandleAggregator{
		series: utils.NewRingBuffer[models.MCandle](maxCandles),
	}
}

// -----------------------------------------------------------------------------

// AppendResult says what Append did with a candle.
type AppendResult int

const (
	CandleAppended AppendResult = iota
	CandleReplaced
	CandleStale
)

// Append replaces the newest candle when it shares the bucket, otherwise
// appends (evicting the oldest past capacity). A candle older than the newest
// bucket is dropped so buckets stay unique and ordered.
func (a *CandleAggregator) Append(c models.MCandle) AppendResult {
	last, ok := a.series.Last()
	switch {
	case ok && last.Time == c.Time:
		a.series.ReplaceLast(c)
		return CandleReplaced
	case ok && c.Time < last.Time:
		return CandleStale
	}

	a.series.Append(c)
	return CandleAppended
}

// -----------------------------------------------------------------------------

// Seed discards the series and appends candles in order.
func (a *CandleAggregator) Seed(candles []models.MCandle) {
	a.series.Clear()
	for _, c := range candles {
		a.Append(c)
	}
}

// -----------------------------------------------------------------------------

// Candles returns a copy, oldest first.
func (a *CandleAggregator) Candles() []models.MCandle {
	return a.series.GetAll()
}

// -----------------------------------------------------------------------------

func (a *CandleAggregator) Len() int {
	return a.series.Size()
}
