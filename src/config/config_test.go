package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, "BTCUSDT", c.Feed.Symbol)
	assert.Equal(t, 50, c.Feed.OrderbookDepth)
	assert.Equal(t, "1", c.Feed.CandleInterval)
	assert.Equal(t, 10000.0, c.Trading.InitialBalance["USDT"])
	assert.Equal(t, 0.0, c.Trading.InitialBalance["BTC"])
	assert.Equal(t, 10, c.Trading.DefaultLeverage)
	assert.Equal(t, 100, c.Trading.MaxLeverage)
	assert.Equal(t, 0.001, c.Trading.MinOrderAmount)
	assert.Equal(t, 10, c.Trading.MaxPositions)
	assert.Equal(t, 5000, c.Intervals.PnLUpdateMs)
	assert.Equal(t, 20000, c.Intervals.PingMs)
	assert.Equal(t, 5000, c.Intervals.ReconnectMs)
	assert.Equal(t, 200, c.MarketData.MaxCandles)
	assert.Equal(t, 20, c.MarketData.MaxOrderbookLevels)
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"PORT":                 "9090",
		"DEFAULT_SYMBOL":       "ETHUSDT",
		"MAX_LEVERAGE":         "50",
		"MIN_ORDER_AMOUNT":     "0.01",
		"INITIAL_BALANCE_USDT": "2500",
		"PNL_UPDATE_INTERVAL":  "1000",
		"FRONTEND_URL":         "http://a.test,http://b.test",
	}
	c := &Config{MConfig: Default().MConfig}
	require.NoError(t, c.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, "ETHUSDT", c.Feed.Symbol)
	assert.Equal(t, 50, c.Trading.MaxLeverage)
	assert.Equal(t, 0.01, c.Trading.MinOrderAmount)
	assert.Equal(t, 2500.0, c.Trading.InitialBalance["USDT"])
	assert.Equal(t, 1000, c.Intervals.PnLUpdateMs)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.Server.AllowedOrigins)
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(func(k string) string {
		if k == "MAX_POSITIONS" {
			return "many"
		}
		return ""
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_POSITIONS")
}

func TestValidateRejectsBadLimits(t *testing.T) {
	c := Default()
	c.Trading.DefaultLeverage = 200
	assert.Error(t, c.Validate())

	c = Default()
	c.Feed.WSURL = "https://stream.bybit.com"
	assert.Error(t, c.Validate())

	c = Default()
	c.Intervals.ReconnectMaxMs = 1000
	assert.Error(t, c.Validate())

	c = Default()
	c.Storage.Enabled = true
	c.Storage.DBType = "postgres"
	assert.Error(t, c.Validate())
}

func TestNewConfigReadsYAMLAndSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	yamlBody := []byte("name: relay-test\nport: 8181\nfeed:\n  symbol: SOLUSDT\ntrading:\n  max_positions: 3\n")
	require.NoError(t, os.WriteFile(path, yamlBody, 0644))

	c, err := NewConfigWithEnv(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "relay-test", c.Name)
	assert.Equal(t, 8181, c.Port)
	assert.Equal(t, "SOLUSDT", c.Feed.Symbol)
	assert.Equal(t, 3, c.Trading.MaxPositions)
	assert.Equal(t, 100, c.Trading.MaxLeverage)

	out := filepath.Join(dir, "saved.yaml")
	require.NoError(t, c.Save(out))
	again, err := NewConfigWithEnv(out, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, c.Feed, again.Feed)
	assert.Equal(t, c.Trading.MaxPositions, again.Trading.MaxPositions)
}

func TestNewConfigMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := NewConfigWithEnv(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "nope.env"))
	require.NoError(t, err)
	assert.Equal(t, "market-relay", c.Name)
}
