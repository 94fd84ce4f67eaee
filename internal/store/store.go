// Package store defines persistence for transactions, splits, and close
// prices. Implementations include PostgreSQL, SQLite (single-file local
// deployments), and in-memory (for testing). Engine results are cached
// separately behind ResultCache.
package store

import (
	"context"

	"github.com/atmx/pnl-engine/internal/model"
)

// Revision counts writes per scope. Any write that changes what an engine
// run would see bumps the matching counter, so a revision triple identifies
// the inputs of a run.
type Revision struct {
	Transactions int64 `json:"transactions"`
	Splits       int64 `json:"splits"`
	Prices       int64 `json:"prices"`
}

// Store is the persistence interface. Transactions are immutable once
// written; re-inserting an ID is a no-op.
type Store interface {
	// --- Transactions ---

	// InsertTransactions appends normalized transactions to an account.
	InsertTransactions(ctx context.Context, accountID string, txs []model.Transaction) error

	// ListTransactions returns an account's transactions in timestamp order.
	ListTransactions(ctx context.Context, accountID string) ([]model.Transaction, error)

	// --- Corporate actions ---

	// InsertSplit records a split, replacing any ratio already stored for
	// the same symbol and effective day.
	InsertSplit(ctx context.Context, s model.Split) error

	// ListSplits returns every split ordered by effective day.
	ListSplits(ctx context.Context) ([]model.Split, error)

	// --- Close prices ---

	// UpsertPrices writes one day of price entries keyed by symbol or
	// contract key.
	UpsertPrices(ctx context.Context, day model.Day, entries map[string]model.PriceEntry) error

	// PriceBook loads entries for days in [from, to]. An empty from means
	// no lower bound. The fetch boundary is always included.
	PriceBook(ctx context.Context, from, to model.Day) (model.PriceBook, error)

	// SetFetchBoundary records the last day the price fetch completed.
	SetFetchBoundary(ctx context.Context, day model.Day) error

	// Revision returns the write counters relevant to an account.
	Revision(ctx context.Context, accountID string) (Revision, error)
}

func inRange(day, from, to model.Day) bool {
	return (from == "" || !day.Before(from)) && !day.After(to)
}
