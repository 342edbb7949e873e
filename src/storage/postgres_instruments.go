package storage

import (
	"fmt"
	"regexp"
	"time"
)

// Instrument is one row of the instruments table.
type Instrument struct {
	Symbol   string
	Interval string
	Source   string
}

var instrumentSymbol = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// -----------------------------------------------------------------------------

// RegisterInstruments upserts instrument metadata. Malformed symbols are
// rejected before anything is written.
func (d *PostgresDB) RegisterInstruments(instruments []Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	for _, in := range instruments {
		if !instrumentSymbol.MatchString(in.Symbol) {
			return fmt.Errorf("invalid instrument symbol %q", in.Symbol)
		}
	}

	tx, err := d.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (symbol, interval, source, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE SET
			interval = EXCLUDED.interval,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
	`, d.table("instruments"))

	stmt, err := tx.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, in := range instruments {
		if _, err := stmt.Exec(in.Symbol, in.Interval, in.Source, time.Now().UTC()); err != nil {
			return err
		}
	}

	return tx.Commit()
}
