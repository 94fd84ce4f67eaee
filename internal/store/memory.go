package store

import (
	"context"
	"sort"
	"sync"

	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	txs      map[string][]model.Transaction
	seen     map[string]bool
	splits   map[splitKey]model.Split
	prices   model.PriceBook
	accounts map[string]int64
	splitRev int64
	priceRev int64
}

type splitKey struct {
	symbol string
	day    model.Day
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:      make(map[string][]model.Transaction),
		seen:     make(map[string]bool),
		splits:   make(map[splitKey]model.Split),
		prices:   model.NewPriceBook(),
		accounts: make(map[string]int64),
	}
}

func (s *MemoryStore) InsertTransactions(_ context.Context, accountID string, txs []model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, tx := range txs {
		if s.seen[tx.ID] {
			continue
		}
		s.seen[tx.ID] = true
		tx.AccountID = accountID
		s.txs[accountID] = append(s.txs[accountID], tx)
		added = true
	}
	if added {
		s.accounts[accountID]++
	}
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ledger.SortByTime(s.txs[accountID]), nil
}

func (s *MemoryStore) InsertSplit(_ context.Context, sp model.Split) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := splitKey{symbol: sp.Symbol, day: sp.EffectiveDay}
	if existing, ok := s.splits[k]; ok && existing.Ratio.Equal(sp.Ratio) {
		return nil
	}
	s.splits[k] = sp
	s.splitRev++
	return nil
}

func (s *MemoryStore) ListSplits(_ context.Context) ([]model.Split, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Split, 0, len(s.splits))
	for _, sp := range s.splits {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectiveDay != out[j].EffectiveDay {
			return out[i].EffectiveDay < out[j].EffectiveDay
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (s *MemoryStore) UpsertPrices(_ context.Context, day model.Day, entries map[string]model.PriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range entries {
		s.prices.Set(day, key, e)
	}
	if len(entries) > 0 {
		s.priceRev++
	}
	return nil
}

// PriceBook returns a copy; callers may mutate it freely.
func (s *MemoryStore) PriceBook(_ context.Context, from, to model.Day) (model.PriceBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book := model.NewPriceBook()
	for day, row := range s.prices.Entries {
		if !inRange(day, from, to) {
			continue
		}
		for key, e := range row {
			book.Set(day, key, e)
		}
	}
	if s.prices.FetchBoundary != nil {
		b := *s.prices.FetchBoundary
		book.FetchBoundary = &b
	}
	return book, nil
}

func (s *MemoryStore) SetFetchBoundary(_ context.Context, day model.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices.FetchBoundary = &day
	s.priceRev++
	return nil
}

func (s *MemoryStore) Revision(_ context.Context, accountID string) (Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Revision{
		Transactions: s.accounts[accountID],
		Splits:       s.splitRev,
		Prices:       s.priceRev,
	}, nil
}
