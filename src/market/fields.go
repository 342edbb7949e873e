package market

import (
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// -----------------------------------------------------------------------------
// Field aliases
//
// The exchange has shipped the same ticker field under several names across API
// versions. Each list is tried in order; the first key that is present and
// parses as a number wins, otherwise the value is 0.
// -----------------------------------------------------------------------------

var (
	lastPriceAliases = []string{"lastPrice", "last_price", "markPrice"}
	changeAliases    = []string{"price24hPcnt", "price_24h_pcnt"} // fraction, scaled by 100
	volumeAliases    = []string{"volume24h", "volume_24h", "turnover24h"}
	highAliases      = []string{"highPrice24h", "high_price_24h", "prevPrice24h"}
	lowAliases       = []string{"lowPrice24h", "low_price_24h"}
)

// Kline rows use a single name per field.
var (
	klineStartAliases  = []string{"start"}
	klineOpenAliases   = []string{"open"}
	klineHighAliases   = []string{"high"}
	klineLowAliases    = []string{"low"}
	klineCloseAliases  = []string{"close"}
	klineVolumeAliases = []string{"volume"}
)

type fields map[string]json.RawMessage

// -----------------------------------------------------------------------------

// firstFloat returns the first alias that holds a number or numeric string.
func (f fields) firstFloat(aliases []string) float64 {
	for _, key := range aliases {
		raw, ok := f[key]
		if !ok {
			continue
		}
		if v, ok := parseNumber(raw); ok {
			return v
		}
	}
	return 0
}

// -----------------------------------------------------------------------------

func (f fields) bool(key string) bool {
	raw, ok := f[key]
	if !ok {
		return false
	}
	var b bool
	return json.Unmarshal(raw, &b) == nil && b
}

// -----------------------------------------------------------------------------

// parseNumber accepts 123, 123.4 and "123.4". Empty strings and null are absent.
func parseNumber(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if s[0] == '"' {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return 0, false
		}
		s = strings.TrimSpace(unq)
		if s == "" {
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
