// Package ledger implements strict FIFO lot matching for a single position
// and a keyed book of positions.
//
// A position holds long lots or short lots, never both once matching has
// settled. A BUY first drains short lots oldest-first and opens a long lot
// with any remainder; a SELL mirrors that against long lots. Every matched
// slice produces exactly one realized event.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransaction is returned when a trade cannot be applied.
var ErrInvalidTransaction = errors.New("ledger: invalid transaction")

// Validate checks the fields FIFO matching depends on.
func Validate(tx model.Transaction) error {
	if tx.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s has no timestamp", ErrInvalidTransaction, tx.ID)
	}
	if !tx.Multiplier.IsPositive() {
		return fmt.Errorf("%w: %s multiplier %s must be positive", ErrInvalidTransaction, tx.ID, tx.Multiplier)
	}
	if tx.Price.IsNegative() {
		return fmt.Errorf("%w: %s price %s is negative", ErrInvalidTransaction, tx.ID, tx.Price)
	}
	return nil
}

// Position is the open lots of one position key.
type Position struct {
	Key         string          `json:"key"`
	Symbol      string          `json:"symbol"`
	AssetKind   model.AssetKind `json:"asset_kind"`
	ContractKey string          `json:"contract_key,omitempty"`
	Long        []model.Lot     `json:"long,omitempty"`
	Short       []model.Lot     `json:"short,omitempty"`
	Realized    decimal.Decimal `json:"realized"`
}

// NewPosition returns an empty position keyed like tx.
func NewPosition(tx model.Transaction) *Position {
	return &Position{
		Key:         tx.PositionKey(),
		Symbol:      model.NormalizeSymbol(tx.Symbol),
		AssetKind:   tx.Kind(),
		ContractKey: tx.ContractKey,
	}
}

// Apply matches tx against the open lots. SPLIT and NOTE rows are no-ops.
func (p *Position) Apply(tx model.Transaction) ([]model.RealizedEvent, error) {
	if !tx.IsTrade() {
		return nil, nil
	}
	if err := Validate(tx); err != nil {
		return nil, err
	}
	if key := tx.PositionKey(); key != p.Key {
		return nil, fmt.Errorf("%w: key %s applied to position %s", ErrInvalidTransaction, key, p.Key)
	}

	q := tx.SignedQuantity()
	if q.IsZero() {
		return nil, nil
	}

	var (
		events    []model.RealizedEvent
		remaining decimal.Decimal
		spent     decimal.Decimal
	)
	amount := tx.Amount()
	if q.IsPositive() {
		events, remaining, spent = p.drain(&p.Short, q, tx, amount, model.CloseShort)
		if !model.IsFlat(remaining) {
			p.Long = append(p.Long, openLot(tx, remaining, amount.Sub(spent)))
		}
	} else {
		events, remaining, spent = p.drain(&p.Long, q.Neg(), tx, amount, model.CloseLong)
		if !model.IsFlat(remaining) {
			p.Short = append(p.Short, openLot(tx, remaining.Neg(), amount.Sub(spent).Neg()))
		}
	}
	return events, nil
}

func openLot(tx model.Transaction, qty, cost decimal.Decimal) model.Lot {
	return model.Lot{
		Quantity:   qty,
		Price:      tx.Price,
		Cost:       cost,
		Multiplier: tx.Multiplier,
		OpenedAt:   tx.Timestamp,
		OpenDay:    tx.Day(),
	}
}

// drain consumes up to want (positive) from the front of lots. amount is
// the trade's value for all of want; the slice of it spent on matched lots
// is returned so the opened remainder keeps the rest exactly.
func (p *Position) drain(lots *[]model.Lot, want decimal.Decimal, tx model.Transaction, amount decimal.Decimal, dir model.Direction) ([]model.RealizedEvent, decimal.Decimal, decimal.Decimal) {
	var events []model.RealizedEvent
	closeDay := tx.Day()
	left := amount
	for len(*lots) > 0 && !model.IsFlat(want) {
		lot := &(*lots)[0]
		matched := decimal.Min(lot.Quantity.Abs(), want)
		openPrice := lot.Price

		part := left
		if matched.LessThan(want) {
			part = left.Mul(matched).Div(want)
		}
		left = left.Sub(part)

		cost := lot.Take(matched)
		var pnl decimal.Decimal
		if dir == model.CloseLong {
			pnl = part.Sub(cost).Mul(lot.Multiplier)
		} else {
			pnl = cost.Sub(part).Mul(lot.Multiplier)
		}

		events = append(events, model.RealizedEvent{
			Key:        p.Key,
			Symbol:     p.Symbol,
			AssetKind:  p.AssetKind,
			Direction:  dir,
			OpenDay:    lot.OpenDay,
			OpenedAt:   lot.OpenedAt,
			OpenPrice:  openPrice,
			CloseDay:   closeDay,
			ClosedAt:   tx.Timestamp,
			ClosePrice: tx.Price,
			Quantity:   matched,
			Multiplier: lot.Multiplier,
			PnL:        pnl,
			TxID:       tx.ID,
		})
		p.Realized = p.Realized.Add(pnl)

		if model.IsFlat(lot.Quantity) {
			*lots = (*lots)[1:]
		}
		want = want.Sub(matched)
	}
	return events, want, amount.Sub(left)
}

// ApplySplit rescales every open lot by ratio.
func (p *Position) ApplySplit(ratio decimal.Decimal) {
	split.ApplyToLots(p.Long, ratio)
	split.ApplyToLots(p.Short, ratio)
}

// NetQuantity is the signed sum of open lot quantities.
func (p *Position) NetQuantity() decimal.Decimal {
	net := decimal.Zero
	for _, l := range p.Long {
		net = net.Add(l.Quantity)
	}
	for _, l := range p.Short {
		net = net.Add(l.Quantity)
	}
	return net
}

// IsFlat reports whether the net quantity is within tolerance of zero.
func (p *Position) IsFlat() bool { return model.IsFlat(p.NetQuantity()) }

// CostBasis is Σ qty × price × multiplier over open lots.
func (p *Position) CostBasis() decimal.Decimal {
	basis := decimal.Zero
	for _, l := range p.Lots() {
		basis = basis.Add(l.CostBasis())
	}
	return basis
}

// AverageCost is |basis| / Σ|qty × multiplier|, zero when flat.
func (p *Position) AverageCost() decimal.Decimal {
	units := decimal.Zero
	for _, l := range p.Lots() {
		units = units.Add(l.Quantity.Abs().Mul(l.Multiplier))
	}
	if units.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis().Abs().Div(units)
}

// Multiplier returns the contract size of the oldest open lot.
func (p *Position) Multiplier() decimal.Decimal {
	if lots := p.Lots(); len(lots) > 0 {
		return lots[0].Multiplier
	}
	return model.DefaultMultiplier(p.AssetKind)
}

// Unrealized marks every open lot against price.
func (p *Position) Unrealized(price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lots() {
		total = total.Add(l.MarkToMarket(price))
	}
	return total
}

// FirstLot returns the earliest-opened open lot.
func (p *Position) FirstLot() (model.Lot, bool) {
	lots := p.Lots()
	if len(lots) == 0 {
		return model.Lot{}, false
	}
	first := lots[0]
	for _, l := range lots[1:] {
		if l.OpenedAt.Before(first.OpenedAt) {
			first = l
		}
	}
	return first, true
}

// PriceKey is the key used to look the position up in a price book.
func (p *Position) PriceKey() string {
	if p.ContractKey != "" {
		return p.ContractKey
	}
	return p.Symbol
}

// Lots returns a copy of the open lots, long before short.
func (p *Position) Lots() []model.Lot {
	out := make([]model.Lot, 0, len(p.Long)+len(p.Short))
	out = append(out, p.Long...)
	return append(out, p.Short...)
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	c := *p
	c.Long = append([]model.Lot(nil), p.Long...)
	c.Short = append([]model.Lot(nil), p.Short...)
	return &c
}

// Book holds one position per key.
type Book map[string]*Position

// NewBook returns an empty book.
func NewBook() Book { return make(Book) }

// Apply routes tx to its position, creating it on first sight. A trade with
// no quantity opens nothing.
func (b Book) Apply(tx model.Transaction) ([]model.RealizedEvent, error) {
	if !tx.IsTrade() || tx.SignedQuantity().IsZero() {
		return nil, nil
	}
	key := tx.PositionKey()
	p, ok := b[key]
	if !ok {
		p = NewPosition(tx)
		b[key] = p
	}
	return p.Apply(tx)
}

// Get returns the position for key.
func (b Book) Get(key string) (*Position, bool) {
	p, ok := b[key]
	return p, ok
}

// Keys returns the position keys in sorted order.
func (b Book) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies every position.
func (b Book) Clone() Book {
	c := make(Book, len(b))
	for k, p := range b {
		c[k] = p.Clone()
	}
	return c
}

// DropFlat removes positions with no open quantity and returns how many
// were removed.
func (b Book) DropFlat() int {
	n := 0
	for k, p := range b {
		if p.IsFlat() {
			delete(b, k)
			n++
		}
	}
	return n
}

// ApplySplit rescales the stock position for s.Symbol. Option positions
// are left alone.
func (b Book) ApplySplit(s model.Split) {
	sym := model.NormalizeSymbol(s.Symbol)
	for _, p := range b {
		if p.AssetKind == model.AssetStock && p.Symbol == sym {
			p.ApplySplit(s.Ratio)
		}
	}
}

// SortByTime returns a copy of txs in stable chronological order.
func SortByTime(txs []model.Transaction) []model.Transaction {
	out := append([]model.Transaction(nil), txs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
