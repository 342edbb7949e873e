package core

import (
	"market-relay/src/models"

	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------

// ComputeMargin is quantity * price / leverage.
func ComputeMargin(quantity, price decimal.Decimal, leverage int) decimal.Decimal {
	return quantity.Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// -----------------------------------------------------------------------------

// ComputePnL is (current - entry) * qty for buys and (entry - current) * qty
// for sells.
func ComputePnL(side models.MSide, entry, current, quantity decimal.Decimal) decimal.Decimal {
	if side == models.SideSell {
		return entry.Sub(current).Mul(quantity)
	}
	return current.Sub(entry).Mul(quantity)
}

// -----------------------------------------------------------------------------

// CalculateChangePercent calculates percentage change.
func CalculateChangePercent(current, previous float64) float64 {
	if previous == 0 {
		return 0.0
	}
	return (current - previous) / previous * 100
}

// -----------------------------------------------------------------------------

// ComputeOHLCV folds consecutive candles into one bar stamped with start.
func ComputeOHLCV(start int64, candles []models.MCandle) models.MCandle {
	if len(candles) == 0 {
		return models.MCandle{Time: start}
	}

	out := models.MCandle{
		Time:  start,
		Open:  candles[0].Open,
		High:  candles[0].High,
		Low:   candles[0].Low,
		Close: candles[len(candles)-1].Close,
	}
	for _, c := range candles {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Volume += c.Volume
	}
	return out
}
