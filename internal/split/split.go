// Package split rescales stock quantities and prices across share splits.
//
// A split with ratio r turns every share held before its effective day into
// r shares priced at 1/r of the original, so quantity × price is unchanged.
package split

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// ErrInvalidSplit is returned by Validate for splits the adjuster ignores.
var ErrInvalidSplit = errors.New("split: invalid split")

// Validate checks a split's symbol, effective day and ratio.
func Validate(s model.Split) error {
	if model.NormalizeSymbol(s.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSplit)
	}
	if !s.EffectiveDay.Valid() {
		return fmt.Errorf("%w: effective day %q", ErrInvalidSplit, s.EffectiveDay)
	}
	if !s.Ratio.IsPositive() {
		return fmt.Errorf("%w: ratio %s must be positive", ErrInvalidSplit, s.Ratio)
	}
	return nil
}

// Adjuster answers split factors for a fixed set of splits. It is immutable
// after construction and safe for concurrent use.
type Adjuster struct {
	bySymbol map[string][]model.Split
}

// NewAdjuster indexes splits by normalized symbol. Invalid splits and exact
// duplicates are dropped.
func NewAdjuster(splits []model.Split) *Adjuster {
	a := &Adjuster{bySymbol: make(map[string][]model.Split)}
	seen := make(map[string]bool)
	for _, s := range splits {
		if Validate(s) != nil {
			continue
		}
		s.Symbol = model.NormalizeSymbol(s.Symbol)
		id := s.Symbol + "|" + string(s.EffectiveDay) + "|" + s.Ratio.String()
		if seen[id] {
			continue
		}
		seen[id] = true
		a.bySymbol[s.Symbol] = append(a.bySymbol[s.Symbol], s)
	}
	for _, list := range a.bySymbol {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].EffectiveDay < list[j].EffectiveDay
		})
	}
	return a
}

// Factor multiplies the ratios of every split of symbol whose effective day
// falls after the day of ts and on or before asOf. A nil asOf leaves the
// upper bound open. Returns 1 when no split applies.
func (a *Adjuster) Factor(symbol string, ts time.Time, asOf *model.Day) decimal.Decimal {
	f := decimal.NewFromInt(1)
	if a == nil {
		return f
	}
	txDay := model.DayOf(ts)
	for _, s := range a.bySymbol[model.NormalizeSymbol(symbol)] {
		if !s.EffectiveDay.After(txDay) {
			continue
		}
		if asOf != nil && s.EffectiveDay.After(*asOf) {
			break
		}
		f = f.Mul(s.Ratio)
	}
	return f
}

// Adjust returns a copy of tx restated in post-split units as of asOf. The
// trade's amount is pinned before the price is divided. Option contracts are
// never rescaled.
func (a *Adjuster) Adjust(tx model.Transaction, asOf *model.Day) model.Transaction {
	if tx.Kind() != model.AssetStock {
		return tx
	}
	f := a.Factor(tx.Symbol, tx.Timestamp, asOf)
	if f.Equal(decimal.NewFromInt(1)) {
		return tx
	}
	tx.Notional = tx.Amount()
	tx.Quantity = tx.Quantity.Mul(f)
	tx.Price = tx.Price.Div(f)
	return tx
}

// On returns the splits that take effect on day, ordered by symbol.
func (a *Adjuster) On(day model.Day) []model.Split {
	var out []model.Split
	if a == nil {
		return out
	}
	for _, list := range a.bySymbol {
		for _, s := range list {
			if s.EffectiveDay == day {
				out = append(out, s)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Between returns splits with from < effective day <= to, ordered by day
// then symbol.
func (a *Adjuster) Between(from, to model.Day) []model.Split {
	var out []model.Split
	if a == nil {
		return out
	}
	for _, list := range a.bySymbol {
		for _, s := range list {
			if s.EffectiveDay.After(from) && !s.EffectiveDay.After(to) {
				out = append(out, s)
			}
		}
	}
	sortByDay(out)
	return out
}

// All returns every indexed split ordered by day then symbol.
func (a *Adjuster) All() []model.Split {
	var out []model.Split
	if a == nil {
		return out
	}
	for _, list := range a.bySymbol {
		out = append(out, list...)
	}
	sortByDay(out)
	return out
}

func sortByDay(out []model.Split) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].EffectiveDay != out[j].EffectiveDay {
			return out[i].EffectiveDay < out[j].EffectiveDay
		}
		return out[i].Symbol < out[j].Symbol
	})
}

// ApplyToLots rescales open lots in place: quantity × ratio, price ÷ ratio.
// Each lot's cost is left untouched.
func ApplyToLots(lots []model.Lot, ratio decimal.Decimal) {
	if !ratio.IsPositive() {
		return
	}
	for i := range lots {
		lots[i].Cost = lots[i].Notional()
		lots[i].Quantity = lots[i].Quantity.Mul(ratio)
		lots[i].Price = lots[i].Price.Div(ratio)
	}
}
