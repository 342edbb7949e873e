package models

import "time"

// MConfig Structure
type MConfig struct {
	Name       string            `yaml:"name"`
	Host       string            `yaml:"host"`
	Port       int               `yaml:"port"`
	LogLevel   string            `yaml:"log_level"`
	GrpcHost   string            `yaml:"grpc_host"`
	GrpcPort   int               `yaml:"grpc_port"`
	Server     MServerConfig     `yaml:"server"`
	Storage    MStorageConfig    `yaml:"storage"`
	Network    MNetworkConfig    `yaml:"network"`
	Feed       MFeedConfig       `yaml:"feed"`
	Trading    MTradingConfig    `yaml:"trading"`
	Intervals  MIntervalsConfig  `yaml:"intervals"`
	MarketData MMarketDataConfig `yaml:"market_data"`
}

type MServerConfig struct {
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ClientRateLimit float64  `yaml:"client_rate_limit"` // intents per second
	ClientRateBurst int      `yaml:"client_rate_burst"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
}

type MNetworkConfig struct {
	Proxies           []string `yaml:"proxies"`
	RequestTimeout    int      `yaml:"timeout"`
	MaxRetries        int      `yaml:"retries"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	UserAgent         string   `yaml:"user_agent"`
}

type MFeedConfig struct {
	WSURL          string `yaml:"ws_url"`
	RESTURL        string `yaml:"rest_url"`
	Symbol         string `yaml:"symbol"`
	OrderbookDepth int    `yaml:"orderbook_depth"`
	CandleInterval string `yaml:"candle_interval"`
}

type MTradingConfig struct {
	InitialBalance  map[string]float64 `yaml:"initial_balance"`
	DefaultLeverage int                `yaml:"default_leverage"`
	MaxLeverage     int                `yaml:"max_leverage"`
	MinOrderAmount  float64            `yaml:"min_order_amount"`
	MaxPositions    int                `yaml:"max_positions"`
}

// MIntervalsConfig values are milliseconds.
type MIntervalsConfig struct {
	PnLUpdateMs    int `yaml:"pnl_update_ms"`
	PingMs         int `yaml:"ping_ms"`
	ReconnectMs    int `yaml:"reconnect_ms"`
	ReconnectMaxMs int `yaml:"reconnect_max_ms"`
}

func (c MIntervalsConfig) PnLUpdate() time.Duration {
	return time.Duration(c.PnLUpdateMs) * time.Millisecond
}

func (c MIntervalsConfig) Ping() time.Duration {
	return time.Duration(c.PingMs) * time.Millisecond
}

func (c MIntervalsConfig) Reconnect() time.Duration {
	return time.Duration(c.ReconnectMs) * time.Millisecond
}

func (c MIntervalsConfig) ReconnectMax() time.Duration {
	return time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

type MMarketDataConfig struct {
	MaxCandles         int `yaml:"max_candles"`
	MaxOrderbookLevels int `yaml:"max_orderbook_levels"`
}

func (c *MConfig) GetLogLevel() string {
	if c == nil {
		return ""
	}
	return c.LogLevel
}
