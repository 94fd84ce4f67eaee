package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PriceStatus is the resolution state of a close price supplied by the
// price-acquisition collaborator.
type PriceStatus string

const (
	PriceOK          PriceStatus = "ok"
	PriceNoLiquidity PriceStatus = "no_liquidity"
	PricePlanLimited PriceStatus = "plan_limited"
	PriceError       PriceStatus = "error"
	PriceMissing     PriceStatus = "missing"
	PricePending     PriceStatus = "pending"
	PriceStale       PriceStatus = "stale"
)

// PriceEntry is one (day, key) cell of the close-price mapping. Close is
// only meaningful when Status is ok.
type PriceEntry struct {
	Status PriceStatus     `json:"status"`
	Close  decimal.Decimal `json:"close"`
}

// PriceBook is the resolved close-price mapping handed to the engine whole.
// FetchBoundary, when set, is the last day the upstream fetch completed;
// later days are fetch_incomplete rather than missing_data.
type PriceBook struct {
	Entries       map[Day]map[string]PriceEntry `json:"entries"`
	FetchBoundary *Day                          `json:"fetch_boundary,omitempty"`
}

// NewPriceBook returns an empty book.
func NewPriceBook() PriceBook {
	return PriceBook{Entries: make(map[Day]map[string]PriceEntry)}
}

// Set stores an entry. The key is a symbol or an option contract key.
func (b *PriceBook) Set(day Day, key string, e PriceEntry) {
	if b.Entries == nil {
		b.Entries = make(map[Day]map[string]PriceEntry)
	}
	row, ok := b.Entries[day]
	if !ok {
		row = make(map[string]PriceEntry)
		b.Entries[day] = row
	}
	row[key] = e
}

// SetClose stores an ok entry.
func (b *PriceBook) SetClose(day Day, key string, close decimal.Decimal) {
	b.Set(day, key, PriceEntry{Status: PriceOK, Close: close})
}

// Get returns the raw entry for (day, key).
func (b PriceBook) Get(day Day, key string) (PriceEntry, bool) {
	e, ok := b.Entries[day][key]
	return e, ok
}

// Close returns the ok close for (day, key).
func (b PriceBook) Close(day Day, key string) (decimal.Decimal, bool) {
	e, ok := b.Get(day, key)
	if !ok || e.Status != PriceOK {
		return decimal.Zero, false
	}
	return e.Close, true
}

// LastCloseBefore returns the most recent ok close strictly before day.
func (b PriceBook) LastCloseBefore(day Day, key string) (Day, decimal.Decimal, bool) {
	var (
		best  Day
		close decimal.Decimal
		found bool
	)
	for d, row := range b.Entries {
		if !d.Before(day) || (found && !d.After(best)) {
			continue
		}
		if e, ok := row[key]; ok && e.Status == PriceOK {
			best, close, found = d, e.Close, true
		}
	}
	return best, close, found
}

// Days returns every day present in the book, sorted.
func (b PriceBook) Days() []Day {
	days := make([]Day, 0, len(b.Entries))
	for d := range b.Entries {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}

// DayStatus tags each calendar record, listed in evaluation priority.
type DayStatus string

const (
	StatusNotOpen         DayStatus = "not_open"
	StatusIntraday        DayStatus = "intraday"
	StatusMarketClosed    DayStatus = "market_closed"
	StatusFetchIncomplete DayStatus = "fetch_incomplete"
	StatusMissingData     DayStatus = "missing_data"
	StatusPartial         DayStatus = "partial"
	StatusOK              DayStatus = "ok"
)

// PriceSource says how a position's end-of-day price was obtained.
type PriceSource string

const (
	SourceClose       PriceSource = "close"
	SourceLastClose   PriceSource = "last_close"
	SourceAverageCost PriceSource = "average_cost"
	SourceIntrinsic   PriceSource = "intrinsic"
	SourceEstimate    PriceSource = "estimate"
	SourceMissing     PriceSource = "missing"
)

// Mark is a copy-on-read valuation of one position at end of day.
type Mark struct {
	Key        string          `json:"key"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Source     PriceSource     `json:"source"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// DailyPnL is one calendar record. Records are never mutated after the run
// that produced them returns.
type DailyPnL struct {
	Day                 Day             `json:"day"`
	Status              DayStatus       `json:"status"`
	TotalPnL            decimal.Decimal `json:"total_pnl"`
	RealizedPnL         decimal.Decimal `json:"realized_pnl"`
	RealizedPriorLots   decimal.Decimal `json:"realized_prior_lots"`
	RealizedSameDayLots decimal.Decimal `json:"realized_same_day_lots"`
	IntradayPnL         decimal.Decimal `json:"intraday_pnl"`
	UnrealizedDelta     decimal.Decimal `json:"unrealized_delta"`
	EodUnrealized       decimal.Decimal `json:"eod_unrealized"`
	PrevUnrealized      decimal.Decimal `json:"prev_unrealized"`
	RealizedToDate      decimal.Decimal `json:"realized_to_date"`
	MissingSymbols      []string        `json:"missing_symbols,omitempty"`
	Reasons             []string        `json:"reasons,omitempty"`
	Marks               []Mark          `json:"marks,omitempty"`
}
