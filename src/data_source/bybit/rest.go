package bybit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"market-relay/src/interfaces"
	"market-relay/src/logger"
	"market-relay/src/models"

	"github.com/goccy/go-json"
)

// maxKlineLimit is the largest page the kline endpoint serves.
const maxKlineLimit = 1000

// -----------------------------------------------------------------------------
// KlineBootstrapper
// -----------------------------------------------------------------------------

// KlineBootstrapper loads recent candle history before the stream starts.
type KlineBootstrapper struct {
	Network  interfaces.INetworkManager
	Logger   *logger.Logger
	restURL  string
	symbol   string
	interval string
	limit    int
}

func NewKlineBootstrapper(cfg *models.MConfig, netMgr interfaces.INetworkManager, log *logger.Logger) *KlineBootstrapper {
	limit := cfg.MarketData.MaxCandles
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	return &KlineBootstrapper{
		Network:  netMgr,
		Logger:   log,
		restURL:  strings.TrimRight(cfg.Feed.RESTURL, "/"),
		symbol:   cfg.Feed.Symbol,
		interval: cfg.Feed.CandleInterval,
		limit:    limit,
	}
}

// -----------------------------------------------------------------------------

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	} `json:"result"`
}

// FetchInitialCandles returns history oldest first. The endpoint lists rows
// newest first as [start, open, high, low, close, volume, turnover].
func (b *KlineBootstrapper) FetchInitialCandles(ctx context.Context) ([]models.MCandle, error) {
	params := map[string]string{
		"category": "linear",
		"symbol":   b.symbol,
		"interval": b.interval,
		"limit":    strconv.Itoa(b.limit),
	}

	body, err := b.Network.Get(ctx, b.restURL+"/v5/market/kline", params)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", b.symbol, err)
	}

	var resp klineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode klines for %s: %w", b.symbol, err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("kline endpoint returned %d: %s", resp.RetCode, resp.RetMsg)
	}

	candles := make([]models.MCandle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		c, err := parseKlineRow(resp.Result.List[i])
		if err != nil {
			b.Logger.Warning("Skipping kline row %d: %v", i, err)
			continue
		}
		candles = append(candles, c)
	}

	b.Logger.Info("Bootstrapped %d candles for %s", len(candles), b.symbol)
	return candles, nil
}

// -----------------------------------------------------------------------------

func parseKlineRow(row []string) (models.MCandle, error) {
	if len(row) < 6 {
		return models.MCandle{}, fmt.Errorf("expected 6 fields, got %d", len(row))
	}

	var vals [6]float64
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return models.MCandle{}, fmt.Errorf("field %d: %w", i, err)
		}
		vals[i] = v
	}

	return models.MCandle{
		Time:   int64(vals[0]) / 1000,
		Open:   vals[1],
		High:   vals[2],
		Low:    vals[3],
		Close:  vals[4],
		Volume: vals[5],
	}, nil
}
