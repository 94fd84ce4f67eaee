// Package intraday attributes one day's PnL to the trades made on that day.
//
// Each position starts the day with a base (yesterday's net, long or short).
// Trades against the base are recorded as reductions and contribute nothing
// until a later trade that day reverses them; trades beyond the base open
// new same-day lots that are closed FIFO and marked at the live price.
package intraday

import (
	"sort"

	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/shopspring/decimal"
)

// Bucket names used in the audit trail.
const (
	BucketSellReduction = "sell_reduction"
	BucketBuyReduction  = "buy_reduction"
	BucketBaseLong      = "base_long"
	BucketBaseShort     = "base_short"
	BucketNewLong       = "new_long"
	BucketNewShort      = "new_short"
)

// Step is one allocation of a trade to a bucket.
type Step struct {
	TxID     string          `json:"tx_id"`
	Key      string          `json:"key"`
	Side     model.Side      `json:"side"`
	Bucket   string          `json:"bucket"`
	Action   string          `json:"action"` // close, reduce or open
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	PnL      decimal.Decimal `json:"pnl"`
}

// SymbolResult is the day's attribution for one position key.
type SymbolResult struct {
	Key           string          `json:"key"`
	Symbol        string          `json:"symbol"`
	StartQuantity decimal.Decimal `json:"start_quantity"`
	EndQuantity   decimal.Decimal `json:"end_quantity"`
	Realized      decimal.Decimal `json:"realized"`
	Unrealized    decimal.Decimal `json:"unrealized"`
	Total         decimal.Decimal `json:"total"`
	LivePrice     decimal.Decimal `json:"live_price"`
	Priced        bool            `json:"priced"`
	OpenLots      []model.Lot     `json:"open_lots,omitempty"`
}

// Result is the output of Run.
type Result struct {
	Day        model.Day       `json:"day"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
	PerSymbol  []SymbolResult  `json:"per_symbol"`
	Audit      []Step          `json:"audit"`
	Warnings   []model.Warning `json:"warnings,omitempty"`
}

type reduction struct {
	qty   decimal.Decimal
	price decimal.Decimal
	mult  decimal.Decimal
}

type state struct {
	key, symbol, priceKey string
	start                 decimal.Decimal
	baseLong, baseShort   decimal.Decimal
	sellReductions        []reduction
	buyReductions         []reduction
	newLong, newShort     []model.Lot
	realized              decimal.Decimal
}

// Run attributes day's trades against the start-of-day positions implied by
// every earlier trade. livePrices is keyed by price key, with the plain
// symbol as a fallback; positions without a price contribute no unrealized.
func Run(txs []model.Transaction, splits []model.Split, day model.Day, livePrices map[string]decimal.Decimal) (*Result, error) {
	if _, err := model.ParseDay(string(day)); err != nil {
		return nil, err
	}
	adj := split.NewAdjuster(splits)
	norm, warnings := ledger.Normalize(txs)

	res := &Result{
		Day:        day,
		Realized:   decimal.Zero,
		Unrealized: decimal.Zero,
		PerSymbol:  []SymbolResult{},
		Audit:      []Step{},
		Warnings:   warnings,
	}

	starts := make(map[string]decimal.Decimal)
	var today []model.Transaction
	for _, tx := range ledger.SortByTime(norm) {
		txDay := tx.Day()
		switch {
		case txDay.Before(day):
			tx = adj.Adjust(tx, &day)
			starts[tx.PositionKey()] = starts[tx.PositionKey()].Add(tx.Quantity)
		case txDay == day:
			today = append(today, tx)
		}
	}

	states := make(map[string]*state)
	for _, tx := range today {
		key := tx.PositionKey()
		st, ok := states[key]
		if !ok {
			start := starts[key]
			st = &state{key: key, symbol: tx.Symbol, priceKey: tx.PriceKey(), start: start}
			if start.IsPositive() {
				st.baseLong = start
			} else if start.IsNegative() {
				st.baseShort = start.Neg()
			}
			states[key] = st
		}
		res.Audit = append(res.Audit, st.apply(tx)...)
	}

	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		st := states[k]
		sr := SymbolResult{
			Key:           st.key,
			Symbol:        st.symbol,
			StartQuantity: st.start,
			EndQuantity:   st.endQuantity(),
			Realized:      st.realized,
			Unrealized:    decimal.Zero,
		}
		sr.OpenLots = append(append([]model.Lot(nil), st.newLong...), st.newShort...)
		if price, ok := lookup(livePrices, st.priceKey, st.symbol); ok {
			sr.LivePrice, sr.Priced = price, true
			for _, l := range sr.OpenLots {
				sr.Unrealized = sr.Unrealized.Add(l.MarkToMarket(price))
			}
		}
		sr.Total = sr.Realized.Add(sr.Unrealized)
		res.Realized = res.Realized.Add(sr.Realized)
		res.Unrealized = res.Unrealized.Add(sr.Unrealized)
		res.PerSymbol = append(res.PerSymbol, sr)
	}
	res.Total = res.Realized.Add(res.Unrealized)
	return res, nil
}

func lookup(prices map[string]decimal.Decimal, priceKey, symbol string) (decimal.Decimal, bool) {
	if p, ok := prices[priceKey]; ok {
		return p, true
	}
	p, ok := prices[symbol]
	return p, ok
}

func (st *state) endQuantity() decimal.Decimal {
	q := st.baseLong.Sub(st.baseShort)
	for _, l := range st.newLong {
		q = q.Add(l.Quantity)
	}
	for _, l := range st.newShort {
		q = q.Add(l.Quantity)
	}
	return q
}
