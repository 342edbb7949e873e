package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"market-relay/src/models"
)

func TestComputeMarginAndPnL(t *testing.T) {
	qty := decimal.NewFromInt(1)
	entry := decimal.NewFromInt(50000)
	cur := decimal.NewFromInt(51000)

	assert.True(t, decimal.NewFromInt(5000).Equal(ComputeMargin(qty, entry, 10)))
	assert.True(t, decimal.NewFromInt(1000).Equal(ComputePnL(models.SideBuy, entry, cur, qty)))
	assert.True(t, decimal.NewFromInt(-1000).Equal(ComputePnL(models.SideSell, entry, cur, qty)))
}

func TestCalculateMeanStd(t *testing.T) {
	mean, std := CalculateMeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, 2.0, std, 1e-9)

	mean, std = CalculateMeanStd([]float64{3})
	assert.Equal(t, 3.0, mean)
	assert.Equal(t, 0.0, std)
}

func TestCalculateChangePercent(t *testing.T) {
	assert.InDelta(t, 10.0, CalculateChangePercent(110, 100), 1e-9)
	assert.Equal(t, 0.0, CalculateChangePercent(1, 0))
}
