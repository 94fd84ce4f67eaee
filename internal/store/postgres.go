package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/pnl-engine/internal/model"
)

const postgresDDL = `
CREATE TABLE IF NOT EXISTS transactions (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	asset_kind   TEXT NOT NULL,
	side         TEXT NOT NULL,
	quantity     NUMERIC NOT NULL,
	price        NUMERIC NOT NULL,
	multiplier   NUMERIC NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	contract_key TEXT NOT NULL DEFAULT '',
	op_kind      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_ts ON transactions(account_id, ts);

CREATE TABLE IF NOT EXISTS splits (
	symbol        TEXT NOT NULL,
	effective_day DATE NOT NULL,
	ratio         NUMERIC NOT NULL,
	PRIMARY KEY (symbol, effective_day)
);

CREATE TABLE IF NOT EXISTS close_prices (
	day         DATE NOT NULL,
	price_key   TEXT NOT NULL,
	status      TEXT NOT NULL,
	close_price NUMERIC,
	PRIMARY KEY (day, price_key)
);

CREATE TABLE IF NOT EXISTS fetch_boundary (
	id  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
	day DATE NOT NULL
);

CREATE TABLE IF NOT EXISTS store_revisions (
	scope TEXT PRIMARY KEY,
	rev   BIGINT NOT NULL
);`

const pgBumpRevision = `
INSERT INTO store_revisions (scope, rev) VALUES ($1, 1)
ON CONFLICT (scope) DO UPDATE SET rev = store_revisions.rev + 1`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresDDL); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTransactions(ctx context.Context, accountID string, txs []model.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var added int64
	for _, t := range txs {
		tag, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, account_id, symbol, asset_kind, side, quantity, price, multiplier, ts, contract_key, op_kind)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, accountID, t.Symbol, t.AssetKind, t.Side,
			t.Quantity.String(), t.Price.String(), t.Multiplier.String(),
			t.Timestamp, t.ContractKey, t.OpKind,
		)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		added += tag.RowsAffected()
	}
	if added > 0 {
		scope, _, _ := revisionScopes(accountID)
		if _, err := tx.Exec(ctx, pgBumpRevision, scope); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, symbol, asset_kind, side,
		        quantity::TEXT, price::TEXT, multiplier::TEXT,
		        ts, contract_key, op_kind
		 FROM transactions WHERE account_id = $1 ORDER BY ts, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var cols txColumns
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &t.AssetKind, &t.Side,
			&cols.quantity, &cols.price, &cols.multiplier,
			&t.Timestamp, &t.ContractKey, &t.OpKind); err != nil {
			return nil, err
		}
		if err := cols.decode(&t); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertSplit(ctx context.Context, sp model.Split) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO splits (symbol, effective_day, ratio) VALUES ($1, $2::DATE, $3::NUMERIC)
		 ON CONFLICT (symbol, effective_day) DO UPDATE SET ratio = excluded.ratio
		 WHERE splits.ratio <> excluded.ratio`,
		sp.Symbol, string(sp.EffectiveDay), sp.Ratio.String())
	if err != nil {
		return fmt.Errorf("insert split %s %s: %w", sp.Symbol, sp.EffectiveDay, err)
	}
	if tag.RowsAffected() > 0 {
		_, scope, _ := revisionScopes("")
		if _, err := tx.Exec(ctx, pgBumpRevision, scope); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListSplits(ctx context.Context) ([]model.Split, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, effective_day::TEXT, ratio::TEXT
		 FROM splits ORDER BY effective_day, symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSplits(rows)
}

func (s *PostgresStore) UpsertPrices(ctx context.Context, day model.Day, entries map[string]model.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for key, e := range entries {
		var closeS *string
		if e.Status == model.PriceOK {
			v := e.Close.String()
			closeS = &v
		}
		batch.Queue(
			`INSERT INTO close_prices (day, price_key, status, close_price)
			 VALUES ($1::DATE, $2, $3, $4::NUMERIC)
			 ON CONFLICT (day, price_key) DO UPDATE
			 SET status = excluded.status, close_price = excluded.close_price`,
			string(day), key, string(e.Status), closeS)
	}
	_, _, scope := revisionScopes("")
	batch.Queue(pgBumpRevision, scope)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert prices for %s: %w", day, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) PriceBook(ctx context.Context, from, to model.Day) (model.PriceBook, error) {
	var lower *string
	if from != "" {
		v := string(from)
		lower = &v
	}
	rows, err := s.pool.Query(ctx,
		`SELECT day::TEXT, price_key, status, COALESCE(close_price::TEXT, '')
		 FROM close_prices
		 WHERE ($1::DATE IS NULL OR day >= $1::DATE) AND day <= $2::DATE`,
		lower, string(to))
	if err != nil {
		return model.PriceBook{}, err
	}
	defer rows.Close()

	book := model.NewPriceBook()
	if err := scanPrices(rows, &book); err != nil {
		return model.PriceBook{}, err
	}

	var boundary string
	err = s.pool.QueryRow(ctx, `SELECT day::TEXT FROM fetch_boundary`).Scan(&boundary)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
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

func (s *PostgresStore) SetFetchBoundary(ctx context.Context, day model.Day) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO fetch_boundary (id, day) VALUES (TRUE, $1::DATE)
		 ON CONFLICT (id) DO UPDATE SET day = excluded.day`, string(day)); err != nil {
		return err
	}
	_, _, scope := revisionScopes("")
	if _, err := tx.Exec(ctx, pgBumpRevision, scope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Revision(ctx context.Context, accountID string) (Revision, error) {
	txScope, splitScope, priceScope := revisionScopes(accountID)
	var rev Revision
	err := s.pool.QueryRow(ctx,
		`SELECT
			COALESCE(MAX(rev) FILTER (WHERE scope = $1), 0),
			COALESCE(MAX(rev) FILTER (WHERE scope = $2), 0),
			COALESCE(MAX(rev) FILTER (WHERE scope = $3), 0)
		 FROM store_revisions`, txScope, splitScope, priceScope).
		Scan(&rev.Transactions, &rev.Splits, &rev.Prices)
	if err != nil {
		return Revision{}, fmt.Errorf("revision for %s: %w", accountID, err)
	}
	return rev, nil
}
