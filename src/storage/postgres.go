package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"market-relay/src/logger"
	"market-relay/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

var unsafeIdent = regexp.MustCompile(`[^A-Za-z0-9_]`)

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg *models.MConfig, log *logger.Logger) (*PostgresDB, error) {
	if cfg.Storage.DBConnectionString == "" {
		return nil, fmt.Errorf("postgres journal requires storage.db_connection_string")
	}

	// Schema is named after the executable
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: schemaName(name),
		Logger: log,
	}, nil
}

// schemaName keeps identifier characters only, so quoting is enough.
func schemaName(name string) string {
	name = strings.ToLower(unsafeIdent.ReplaceAllString(name, "_"))
	if name == "" {
		return "market_relay"
	}
	return name
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	dsn := d.Config.Storage.DBConnectionString
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	d.DB = db

	// Create Schema
	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.recreateTables(); err != nil {
		return err
	}

	// Register the traded instrument
	feed := d.Config.Feed
	if err := d.RegisterInstruments([]Instrument{{
		Symbol:   feed.Symbol,
		Interval: feed.CandleInterval,
		Source:   feed.WSURL,
	}}); err != nil {
		d.Logger.Error("PostgresDB: Failed to register instrument %s: %v", feed.Symbol, err)
	}

	d.Logger.Info("PostgresDB journal initialized (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) table(name string) string {
	return fmt.Sprintf(`"%s"."%s"`, d.Schema, name)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) recreateTables() error {
	tables := []struct{ name, ddl string }{
		{"trades", `
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			entry_price NUMERIC NOT NULL,
			exit_price NUMERIC NOT NULL,
			pnl NUMERIC NOT NULL,
			timestamp BIGINT NOT NULL`},
		{"orders", `
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity NUMERIC NOT NULL,
			price NUMERIC,
			leverage INTEGER NOT NULL,
			status TEXT NOT NULL,
			position_id TEXT,
			created_at BIGINT NOT NULL,
			filled_at BIGINT,
			cancelled_at BIGINT`},
		{"candles", `
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			time BIGINT NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume DOUBLE PRECISION,
			PRIMARY KEY (symbol, interval, time)`},
		{"instruments", `
			symbol TEXT PRIMARY KEY,
			interval TEXT NOT NULL,
			source TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL`},
	}

	for _, t := range tables {
		tableName := d.table(t.name)
		if _, err := d.DB.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", tableName, err)
		}
		if _, err := d.DB.Exec(fmt.Sprintf(`CREATE TABLE %s (%s);`, tableName, t.ddl)); err != nil {
			return fmt.Errorf("failed to create %s: %w", tableName, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveTrades(trades []models.MTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, position_id, symbol, side, quantity, entry_price, exit_price, pnl, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, d.table("trades"))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range trades {
		_, err := stmt.Exec(t.ID, t.UserID, t.PositionID, t.Symbol, string(t.Side),
			t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.Timestamp)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveOrders(orders []models.MOrder) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, symbol, side, order_type, quantity, price, leverage, status,
			position_id, created_at, filled_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			position_id = EXCLUDED.position_id,
			filled_at = EXCLUDED.filled_at,
			cancelled_at = EXCLUDED.cancelled_at
	`, d.table("orders"))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range orders {
		if _, err := stmt.Exec(orderArgs(o)...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveCandles(symbol, interval string, candles []models.MCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, interval, time, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, time) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`, d.table("candles"))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(symbol, interval, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
