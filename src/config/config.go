package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"market-relay/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// Default returns the configuration used when no file or environment overrides
// are present.
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{}}
	c.ApplyDefaults()
	return c
}

// -----------------------------------------------------------------------------

// NewConfig loads the YAML file at configPath (optional), overlays the .env file
// and process environment, fills defaults and validates.
func NewConfig(configPath string) (*Config, error) {
	return NewConfigWithEnv(configPath, "")
}

// -----------------------------------------------------------------------------

// NewConfigWithEnv is NewConfig with an explicit .env path.
// Priority: ENV > .env file > YAML > defaults
func NewConfigWithEnv(configPath, envPath string) (*Config, error) {
	var modelConfig models.MConfig

	// 1. Read the YAML file content, a missing file is not an error
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &modelConfig); err != nil {
				return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
		}
	}

	config := &Config{MConfig: &modelConfig}

	// 2. Environment overlay
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	// 3. Defaults, then validation
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills every zero-valued field.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "market-relay"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = "127.0.0.1"
	}
	if c.GrpcPort == 0 {
		c.GrpcPort = 50051
	}

	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Server.ClientRateLimit == 0 {
		c.Server.ClientRateLimit = 20
	}
	if c.Server.ClientRateBurst == 0 {
		c.Server.ClientRateBurst = 40
	}

	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "market-relay.db"
	}

	if c.Network.RequestTimeout == 0 {
		c.Network.RequestTimeout = 10
	}
	if c.Network.MaxRetries == 0 {
		c.Network.MaxRetries = 3
	}
	if c.Network.RequestsPerSecond == 0 {
		c.Network.RequestsPerSecond = 5
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = "market-relay/1.0"
	}

	if c.Feed.WSURL == "" {
		c.Feed.WSURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if c.Feed.RESTURL == "" {
		c.Feed.RESTURL = "https://api.bybit.com"
	}
	if c.Feed.Symbol == "" {
		c.Feed.Symbol = "BTCUSDT"
	}
	if c.Feed.OrderbookDepth == 0 {
		c.Feed.OrderbookDepth = 50
	}
	if c.Feed.CandleInterval == "" {
		c.Feed.CandleInterval = "1"
	}

	if c.Trading.InitialBalance == nil {
		c.Trading.InitialBalance = map[string]float64{"USDT": 10000, "BTC": 0}
	}
	if c.Trading.DefaultLeverage == 0 {
		c.Trading.DefaultLeverage = 10
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = 100
	}
	if c.Trading.MinOrderAmount == 0 {
		c.Trading.MinOrderAmount = 0.001
	}
	if c.Trading.MaxPositions == 0 {
		c.Trading.MaxPositions = 10
	}

	if c.Intervals.PnLUpdateMs == 0 {
		c.Intervals.PnLUpdateMs = 5000
	}
	if c.Intervals.PingMs == 0 {
		c.Intervals.PingMs = 20000
	}
	if c.Intervals.ReconnectMs == 0 {
		c.Intervals.ReconnectMs = 5000
	}
	if c.Intervals.ReconnectMaxMs == 0 {
		c.Intervals.ReconnectMaxMs = 60000
	}

	if c.MarketData.MaxCandles == 0 {
		c.MarketData.MaxCandles = 200
	}
	if c.MarketData.MaxOrderbookLevels == 0 {
		c.MarketData.MaxOrderbookLevels = 20
	}
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides fields from environment variables. lookup is os.Getenv in
// production.
func (c *Config) ApplyEnv(lookup func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := strings.TrimSpace(lookup(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flt := func(key string, dst *float64) error {
		v := strings.TrimSpace(lookup(key))
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}

	str("BYBIT_WS_URL", &c.Feed.WSURL)
	str("BYBIT_REST_URL", &c.Feed.RESTURL)
	str("DEFAULT_SYMBOL", &c.Feed.Symbol)
	str("CANDLE_INTERVAL", &c.Feed.CandleInterval)
	str("LOG_LEVEL", &c.LogLevel)
	if origin := strings.TrimSpace(lookup("FRONTEND_URL")); origin != "" {
		c.Server.AllowedOrigins = strings.Split(origin, ",")
	}

	balance := func(key, currency string) error {
		v := strings.TrimSpace(lookup(key))
		if v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if c.Trading.InitialBalance == nil {
			c.Trading.InitialBalance = map[string]float64{"USDT": 10000, "BTC": 0}
		}
		c.Trading.InitialBalance[currency] = f
		return nil
	}

	return errors.Join(
		num("PORT", &c.Port),
		num("GRPC_PORT", &c.GrpcPort),
		num("DEFAULT_LEVERAGE", &c.Trading.DefaultLeverage),
		num("MAX_LEVERAGE", &c.Trading.MaxLeverage),
		flt("MIN_ORDER_AMOUNT", &c.Trading.MinOrderAmount),
		num("MAX_POSITIONS", &c.Trading.MaxPositions),
		num("PNL_UPDATE_INTERVAL", &c.Intervals.PnLUpdateMs),
		num("PING_INTERVAL", &c.Intervals.PingMs),
		num("RECONNECT_INTERVAL", &c.Intervals.ReconnectMs),
		num("MAX_CANDLES", &c.MarketData.MaxCandles),
		num("MAX_ORDERBOOK_LEVELS", &c.MarketData.MaxOrderbookLevels),
		balance("INITIAL_BALANCE_USDT", "USDT"),
		balance("INITIAL_BALANCE_BTC", "BTC"),
	)
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Server
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort < 0 || c.GrpcPort > 65535 {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}
	if c.Server.ClientRateLimit < 0 || c.Server.ClientRateBurst < 0 {
		return fmt.Errorf("client rate limit cannot be negative")
	}

	// Storage
	if c.Storage.Enabled {
		switch c.Storage.DBType {
		case "sqlite":
			if c.Storage.DBPath == "" {
				return fmt.Errorf("database path cannot be empty for sqlite")
			}
		case "postgres":
			if c.Storage.DBConnectionString == "" {
				return fmt.Errorf("connection string cannot be empty for postgres")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
		}
	}

	// Network
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Feed
	if c.Feed.Symbol == "" {
		return fmt.Errorf("feed symbol cannot be empty")
	}
	if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
		return fmt.Errorf("feed ws url must use ws:// or wss://: %q", c.Feed.WSURL)
	}
	if c.Feed.OrderbookDepth <= 0 {
		return fmt.Errorf("orderbook depth must be greater than 0")
	}

	// Trading
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("max leverage must be at least 1")
	}
	if c.Trading.DefaultLeverage < 1 || c.Trading.DefaultLeverage > c.Trading.MaxLeverage {
		return fmt.Errorf("default leverage %d must be between 1 and %d", c.Trading.DefaultLeverage, c.Trading.MaxLeverage)
	}
	if c.Trading.MinOrderAmount <= 0 {
		return fmt.Errorf("min order amount must be greater than 0")
	}
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be greater than 0")
	}
	for currency, amount := range c.Trading.InitialBalance {
		if amount < 0 {
			return fmt.Errorf("initial balance for %s cannot be negative", currency)
		}
	}

	// Intervals
	if c.Intervals.PnLUpdateMs <= 0 || c.Intervals.PingMs <= 0 || c.Intervals.ReconnectMs <= 0 {
		return fmt.Errorf("intervals must be greater than 0")
	}
	if c.Intervals.ReconnectMaxMs < c.Intervals.ReconnectMs {
		return fmt.Errorf("reconnect max (%dms) is below reconnect base (%dms)", c.Intervals.ReconnectMaxMs, c.Intervals.ReconnectMs)
	}

	// Market data
	if c.MarketData.MaxCandles <= 0 {
		return fmt.Errorf("max candles must be greater than 0")
	}
	if c.MarketData.MaxOrderbookLevels <= 0 {
		return fmt.Errorf("max orderbook levels must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
