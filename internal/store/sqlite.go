package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atmx/pnl-engine/internal/model"
)

// Decimals and timestamps are stored as TEXT so values round-trip exactly.
const sqliteDDL = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	asset_kind   TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     TEXT NOT NULL,
	price        TEXT NOT NULL,
	multiplier   TEXT NOT NULL,
	ts           TEXT NOT NULL,
	ts_unix_nano INTEGER NOT NULL,
	contract_key TEXT NOT NULL DEFAULT '',
	op_kind      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts_unix_nano);

CREATE TABLE IF NOT EXISTS splits (
	symbol        TEXT NOT NULL,
	effective_day TEXT NOT NULL,
	ratio         TEXT NOT NULL,
	PRIMARY KEY (symbol, effective_day)
);

CREATE TABLE IF NOT EXISTS close_prices (
	day         TEXT NOT NULL,
	price_key   TEXT NOT NULL,
	status      TEXT NOT NULL,
	close_price TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (day, price_key)
);

CREATE TABLE IF NOT EXISTS fetch_boundary (
	id  INTEGER PRIMARY KEY CHECK (id = 1),
	day TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS store_revisions (
	scope TEXT PRIMARY KEY,
	rev   INTEGER NOT NULL
);`

const sqliteBumpRevision = `
INSERT INTO store_revisions (scope, rev) VALUES (?, 1)
ON CONFLICT(scope) DO UPDATE SET rev = rev + 1`

// SQLiteStore implements Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertTransactions(ctx context.Context, accountID string, txs []model.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var added int64
	for _, t := range txs {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO transactions (id, account_id, symbol, asset_kind, side,
				quantity, price, multiplier, ts, ts_unix_nano, contract_key, op_kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, accountID, t.Symbol, string(t.AssetKind), string(t.Side),
			t.Quantity.String(), t.Price.String(), t.Multiplier.String(),
			t.Timestamp.UTC().Format(time.RFC3339Nano), t.Timestamp.UnixNano(),
			t.ContractKey, string(t.OpKind),
		)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	if added > 0 {
		scope, _, _ := revisionScopes(accountID)
		if _, err := tx.ExecContext(ctx, sqliteBumpRevision, scope); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, asset_kind, side, quantity, price, multiplier,
			ts, contract_key, op_kind
		FROM transactions WHERE account_id = ? ORDER BY ts_unix_nano, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var cols txColumns
		var ts, kind, side, op string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &kind, &side,
			&cols.quantity, &cols.price, &cols.multiplier,
			&ts, &t.ContractKey, &op); err != nil {
			return nil, err
		}
		t.AssetKind, t.Side, t.OpKind = model.AssetKind(kind), model.Side(side), model.OpKind(op)
		if err := cols.decode(&t); err != nil {
			return nil, err
		}
		if t.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("transaction %s timestamp: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertSplit(ctx context.Context, sp model.Split) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO splits (symbol, effective_day, ratio) VALUES (?, ?, ?)
		ON CONFLICT(symbol, effective_day) DO UPDATE SET ratio = excluded.ratio
		WHERE splits.ratio <> excluded.ratio`,
		sp.Symbol, string(sp.EffectiveDay), sp.Ratio.String())
	if err != nil {
		return fmt.Errorf("insert split %s %s: %w", sp.Symbol, sp.EffectiveDay, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, scope, _ := revisionScopes("")
		if _, err := tx.ExecContext(ctx, sqliteBumpRevision, scope); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListSplits(ctx context.Context) ([]model.Split, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, effective_day, ratio FROM splits ORDER BY effective_day, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSplits(rows)
}

func (s *SQLiteStore) UpsertPrices(ctx context.Context, day model.Day, entries map[string]model.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for key, e := range entries {
		closeS := ""
		if e.Status == model.PriceOK {
			closeS = e.Close.String()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO close_prices (day, price_key, status, close_price) VALUES (?, ?, ?, ?)
			ON CONFLICT(day, price_key) DO UPDATE SET
				status = excluded.status,
				close_price = excluded.close_price`,
			string(day), key, string(e.Status), closeS); err != nil {
			return fmt.Errorf("upsert price %s %s: %w", day, key, err)
		}
	}
	_, _, scope := revisionScopes("")
	if _, err := tx.ExecContext(ctx, sqliteBumpRevision, scope); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) PriceBook(ctx context.Context, from, to model.Day) (model.PriceBook, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, price_key, status, close_price FROM close_prices
		WHERE (? = '' OR day >= ?) AND day <= ?`,
		string(from), string(from), string(to))
	if err != nil {
		return model.PriceBook{}, err
	}
	defer rows.Close()

	book := model.NewPriceBook()
	if err := scanPrices(rows, &book); err != nil {
		return model.PriceBook{}, err
	}

	var boundary string
	err = s.db.QueryRowContext(ctx, `SELECT day FROM fetch_boundary WHERE id = 1`).Scan(&boundary)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.PriceBook{}, err
	default:
		d, err := model.ParseDay(boundary)
		if err != nil {
			return model.PriceBook{}, err
		}
		book.FetchBoundary = &d
	}
	return book, nil
}

func (s *SQLiteStore) SetFetchBoundary(ctx context.Context, day model.Day) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fetch_boundary (id, day) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET day = excluded.day`, string(day)); err != nil {
		return err
	}
	_, _, scope := revisionScopes("")
	if _, err := tx.ExecContext(ctx, sqliteBumpRevision, scope); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Revision(ctx context.Context, accountID string) (Revision, error) {
	txScope, splitScope, priceScope := revisionScopes(accountID)
	var rev Revision
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(MAX(CASE WHEN scope = ? THEN rev END), 0),
			COALESCE(MAX(CASE WHEN scope = ? THEN rev END), 0),
			COALESCE(MAX(CASE WHEN scope = ? THEN rev END), 0)
		FROM store_revisions`, txScope, splitScope, priceScope).
		Scan(&rev.Transactions, &rev.Splits, &rev.Prices)
	if err != nil {
		return Revision{}, fmt.Errorf("revision for %s: %w", accountID, err)
	}
	return rev, nil
}
