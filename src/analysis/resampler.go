package analysis

import (
	"fmt"
	"sort"
	"strconv"

	"market-relay/src/analysis/core"
	"market-relay/src/models"
)

// -----------------------------------------------------------------------------

// IntervalSeconds converts an exchange kline interval ("1", "60", "D", "W") to
// seconds. Monthly bars have no fixed width and are rejected.
func IntervalSeconds(interval string) (int64, error) {
	switch interval {
	case "D":
		return 86400, nil
	case "W":
		return 7 * 86400, nil
	}
	minutes, err := strconv.Atoi(interval)
	if err != nil || minutes <= 0 {
		return 0, fmt.Errorf("unsupported candle interval %q", interval)
	}
	return int64(minutes) * 60, nil
}

// -----------------------------------------------------------------------------

// Epoch day 0 is a Thursday; exchange weeks open on Monday 1970-01-05.
const weekAnchor = 4 * 86400

// CalculateWindowBoundaries returns the aligned [start, end) bucket holding ts.
// Whole-week windows are aligned to Monday 00:00 UTC.
func CalculateWindowBoundaries(ts int64, window int64) (int64, int64) {
	var anchor int64
	if window%(7*86400) == 0 {
		anchor = weekAnchor
	}
	off := (ts - anchor) % window
	if off < 0 {
		off += window
	}
	start := ts - off
	return start, start + window
}

// -----------------------------------------------------------------------------

// ResampleCandles groups candles into aligned buckets of windowSeconds and
// folds each bucket into one bar. Input need not be sorted.
func ResampleCandles(candles []models.MCandle, windowSeconds int64) []models.MCandle {
	if len(candles) == 0 || windowSeconds <= 0 {
		return []models.MCandle{}
	}

	sorted := make([]models.MCandle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var out []models.MCandle
	groupStart := 0
	bucket, _ := CalculateWindowBoundaries(sorted[0].Time, windowSeconds)

	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) {
			if b, _ := CalculateWindowBoundaries(sorted[i].Time, windowSeconds); b == bucket {
				continue
			}
		}
		out = append(out, core.ComputeOHLCV(bucket, sorted[groupStart:i]))
		if i < len(sorted) {
			groupStart = i
			bucket, _ = CalculateWindowBoundaries(sorted[i].Time, windowSeconds)
		}
	}

	return out
}
