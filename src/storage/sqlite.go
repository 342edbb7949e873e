package storage

import (
	"database/sql"
	"fmt"

	"market-relay/src/logger"
	"market-relay/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type AsyncSQLiteDB struct {
	Config *models.MConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewAsyncSQLiteDB(cfg *models.MConfig, log *logger.Logger) (*AsyncSQLiteDB, error) {
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("sqlite journal requires storage.db_path")
	}
	return &AsyncSQLiteDB{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Initialize() error {
	dsn := d.Config.Storage.DBPath

	// Open DB
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	// Recreate Tables
	if err := d.recreateTables(); err != nil {
		return err
	}
	d.Logger.Info("SQLite journal initialized at %s", dsn)
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) recreateTables() error {
	tables := []struct{ name, ddl string }{
		{"trades", `
			CREATE TABLE trades (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				position_id TEXT NOT NULL,
				symbol TEXT NOT NULL,
				side TEXT NOT NULL,
				quantity TEXT NOT NULL,
				entry_price TEXT NOT NULL,
				exit_price TEXT NOT NULL,
				pnl TEXT NOT NULL,
				timestamp INTEGER NOT NULL
			);`},
		{"orders", `
			CREATE TABLE orders (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				symbol TEXT NOT NULL,
				side TEXT NOT NULL,
				order_type TEXT NOT NULL,
				quantity TEXT NOT NULL,
				price TEXT,
				leverage INTEGER NOT NULL,
				status TEXT NOT NULL,
				position_id TEXT,
				created_at INTEGER NOT NULL,
				filled_at INTEGER,
				cancelled_at INTEGER
			);`},
		{"candles", `
			CREATE TABLE candles (
				symbol TEXT NOT NULL,
				interval TEXT NOT NULL,
				time INTEGER NOT NULL,
				open REAL,
				high REAL,
				low REAL,
				close REAL,
				volume REAL,
				PRIMARY KEY (symbol, interval, time)
			);`},
	}

	for _, t := range tables {
		if _, err := d.DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", t.name)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", t.name, err)
		}
		if _, err := d.DB.Exec(t.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", t.name, err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveTrades(trades []models.MTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO trades (id, user_id, position_id, symbol, side, quantity, entry_price, exit_price, pnl, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)
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

func (d *AsyncSQLiteDB) SaveOrders(orders []models.MOrder) error {
	if len(orders) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO orders (id, user_id, symbol, side, order_type, quantity, price, leverage, status,
			position_id, created_at, filled_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			price = excluded.price,
			status = excluded.status,
			position_id = excluded.position_id,
			filled_at = excluded.filled_at,
			cancelled_at = excluded.cancelled_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range orders {
		_, err := stmt.Exec(orderArgs(o)...)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) SaveCandles(symbol, interval string, candles []models.MCandle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO candles (symbol, interval, time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, interval, time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(symbol, interval, c.Time, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (d *AsyncSQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------

// orderArgs flattens an order; zero timestamps and empty ids become NULL.
func orderArgs(o models.MOrder) []interface{} {
	return []interface{}{
		o.ID, o.UserID, o.Symbol, string(o.Side), string(o.OrderType), o.Quantity, o.Price,
		o.Leverage, string(o.Status), nullString(o.PositionID), o.CreatedAt,
		nullInt(o.FilledAt), nullInt(o.CancelledAt),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
