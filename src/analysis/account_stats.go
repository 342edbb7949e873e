package analysis

import (
	"market-relay/src/analysis/core"
	"market-relay/src/models"
)

// -----------------------------------------------------------------------------

// ComputeAccountStats summarizes a user's closed trades.
func ComputeAccountStats(trades []models.MTrade) models.MAccountStats {
	stats := models.MAccountStats{TradeCount: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	pnls := make([]float64, len(trades))
	for i, t := range trades {
		p := t.PnL.InexactFloat64()
		pnls[i] = p
		stats.TotalPnL += p

		switch {
		case p > 0:
			stats.Wins++
		case p < 0:
			stats.Losses++
		}
		if i == 0 || p > stats.BestTrade {
			stats.BestTrade = p
		}
		if i == 0 || p < stats.WorstTrade {
			stats.WorstTrade = p
		}
	}

	stats.WinRate = float64(stats.Wins) / float64(len(trades))
	stats.MeanPnL, stats.StdPnL = core.CalculateMeanStd(pnls)
	stats.MaxDrawdown = core.CalculateMaxDrawdown(pnls)
	return stats
}
