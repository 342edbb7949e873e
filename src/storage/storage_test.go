package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-relay/src/config"
	"market-relay/src/logger"
	"market-relay/src/models"
)

func newSQLite(t *testing.T) *AsyncSQLiteDB {
	t.Helper()
	cfg := config.Default().MConfig
	cfg.Storage.DBType = "sqlite"
	cfg.Storage.DBPath = ":memory:"

	db, err := NewAsyncSQLiteDB(cfg, logger.Nop("storage"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func count(t *testing.T, db *AsyncSQLiteDB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.DB.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSQLiteSaveTrades(t *testing.T) {
	db := newSQLite(t)
	trade := models.MTrade{
		ID: "t1", UserID: "u1", PositionID: "p1", Symbol: "BTCUSDT", Side: models.SideBuy,
		Quantity: d("0.1"), EntryPrice: d("50000"), ExitPrice: d("51000"), PnL: d("100"), Timestamp: 1700000000000,
	}

	require.NoError(t, db.SaveTrades([]models.MTrade{trade, trade}))
	assert.Equal(t, 1, count(t, db, "trades"))

	var pnl string
	require.NoError(t, db.DB.QueryRow("SELECT pnl FROM trades WHERE id = ?", "t1").Scan(&pnl))
	assert.Equal(t, "100", pnl)
}

func TestSQLiteSaveOrdersUpserts(t *testing.T) {
	db := newSQLite(t)
	order := models.MOrder{
		ID: "o1", UserID: "u1", Symbol: "BTCUSDT", Side: models.SideSell, OrderType: models.OrderTypeLimit,
		Quantity: d("1"), Price: decimal.NewNullDecimal(d("101")), Leverage: 5,
		Status: models.OrderPending, CreatedAt: 1,
	}
	require.NoError(t, db.SaveOrders([]models.MOrder{order}))

	order.Status = models.OrderFilled
	order.PositionID = "p9"
	order.FilledAt = 2
	require.NoError(t, db.SaveOrders([]models.MOrder{order}))

	assert.Equal(t, 1, count(t, db, "orders"))
	var (
		status   string
		position *string
		filledAt *int64
		cancel   *int64
	)
	require.NoError(t, db.DB.QueryRow("SELECT status, position_id, filled_at, cancelled_at FROM orders WHERE id = 'o1'").
		Scan(&status, &position, &filledAt, &cancel))
	assert.Equal(t, "filled", status)
	require.NotNil(t, position)
	assert.Equal(t, "p9", *position)
	require.NotNil(t, filledAt)
	assert.EqualValues(t, 2, *filledAt)
	assert.Nil(t, cancel)
}

func TestSQLiteSaveCandlesUpserts(t *testing.T) {
	db := newSQLite(t)
	c := models.MCandle{Time: 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	require.NoError(t, db.SaveCandles("BTCUSDT", "1", []models.MCandle{c}))

	c.Close = 1.8
	require.NoError(t, db.SaveCandles("BTCUSDT", "1", []models.MCandle{c, {Time: 120, Close: 2}}))
	assert.Equal(t, 2, count(t, db, "candles"))

	var closePrice float64
	require.NoError(t, db.DB.QueryRow("SELECT close FROM candles WHERE time = 60").Scan(&closePrice))
	assert.Equal(t, 1.8, closePrice)
}

func TestSQLiteRequiresPath(t *testing.T) {
	cfg := config.Default().MConfig
	cfg.Storage.DBPath = ""
	_, err := NewAsyncSQLiteDB(cfg, logger.Nop("storage"))
	assert.Error(t, err)
}

func TestNewDatabaseSelectsBackend(t *testing.T) {
	cfg := config.Default().MConfig
	cfg.Storage.DBPath = ":memory:"

	cfg.Storage.DBType = "sqlite"
	db, err := NewDatabase(cfg, logger.Nop("storage"))
	require.NoError(t, err)
	assert.IsType(t, &AsyncSQLiteDB{}, db)

	cfg.Storage.DBType = "postgres"
	cfg.Storage.DBConnectionString = "postgres://localhost/relay?sslmode=disable"
	db, err = NewDatabase(cfg, logger.Nop("storage"))
	require.NoError(t, err)
	assert.IsType(t, &PostgresDB{}, db)

	cfg.Storage.DBType = "mongo"
	_, err = NewDatabase(cfg, logger.Nop("storage"))
	assert.Error(t, err)
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "market_relay", schemaName("market-relay"))
	assert.Equal(t, "main", schemaName("main"))
	assert.Equal(t, "market_relay", schemaName(""))
	assert.Equal(t, "a_b_c", schemaName(`a"b;c`))
}

func TestRegisterInstrumentsRejectsBadSymbol(t *testing.T) {
	pg := &PostgresDB{Schema: "x", Logger: logger.Nop("storage")}
	err := pg.RegisterInstruments([]Instrument{{Symbol: `BTC"; DROP`}})
	assert.ErrorContains(t, err, "invalid instrument symbol")
}

// -----------------------------------------------------------------------------

type failingDB struct {
	*AsyncSQLiteDB
	fail bool
}

func (f *failingDB) SaveTrades(trades []models.MTrade) error {
	if f.fail && len(trades) > 0 {
		return errors.New("disk full")
	}
	return f.AsyncSQLiteDB.SaveTrades(trades)
}

func TestJournalWritesLedgerEventsAndCandles(t *testing.T) {
	db := newSQLite(t)
	j := NewJournal(db, "BTCUSDT", "1", logger.Nop("journal"))

	order := models.MOrder{ID: "o1", UserID: "u1", Symbol: "BTCUSDT", Side: models.SideBuy,
		OrderType: models.OrderTypeMarket, Quantity: d("1"), Leverage: 1, Status: models.OrderFilled, CreatedAt: 1}
	trade := models.MTrade{ID: "t1", UserID: "u1", PositionID: "p1", Symbol: "BTCUSDT", Side: models.SideBuy,
		Quantity: d("1"), EntryPrice: d("1"), ExitPrice: d("2"), PnL: d("1"), Timestamp: 3}

	j.PublishLedgerEvents([]models.MLedgerEvent{
		{Kind: models.LedgerPositionOpened, UserID: "u1", Order: &order},
		{Kind: models.LedgerBalanceUpdated, UserID: "u1"},
	})
	j.PublishLedgerEvents([]models.MLedgerEvent{{Kind: models.LedgerPositionClosed, UserID: "u1", Trade: &trade}})
	j.RecordCandle(models.MCandle{Time: 60, Close: 1})

	assert.Eventually(t, func() bool { return j.Written() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, count(t, db, "orders"))
	assert.Equal(t, 1, count(t, db, "trades"))
	assert.Equal(t, 1, count(t, db, "candles"))
	assert.Zero(t, j.Dropped())
}

func TestJournalIsolatesWriteErrors(t *testing.T) {
	db := &failingDB{AsyncSQLiteDB: newSQLite(t), fail: true}
	j := NewJournal(db, "BTCUSDT", "1", logger.Nop("journal"))

	trade := models.MTrade{ID: "t1", Side: models.SideBuy, Quantity: d("1"), EntryPrice: d("1"), ExitPrice: d("1"), PnL: d("0")}
	j.PublishLedgerEvents([]models.MLedgerEvent{{Trade: &trade}})
	assert.Eventually(t, func() bool { return j.Errors() == 1 }, 2*time.Second, 10*time.Millisecond)

	j.RecordCandle(models.MCandle{Time: 60, Close: 1})
	assert.Eventually(t, func() bool { return j.Written() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestJournalCloseDrainsAndIsIdempotent(t *testing.T) {
	db := newSQLite(t)
	j := NewJournal(db, "BTCUSDT", "1", logger.Nop("journal"))
	for i := int64(1); i <= 20; i++ {
		j.RecordCandle(models.MCandle{Time: i * 60, Close: float64(i)})
	}

	require.NoError(t, j.Close())
	assert.EqualValues(t, 20, j.Written())
	require.NoError(t, j.Close())

	// After close nothing is queued.
	j.RecordCandle(models.MCandle{Time: 9999})
	assert.EqualValues(t, 20, j.Written())
}
