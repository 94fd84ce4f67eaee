// Package model defines the core domain types shared across the PnL engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetKind distinguishes equities from option contracts.
type AssetKind string

const (
	AssetStock  AssetKind = "stock"
	AssetOption AssetKind = "option"
)

// Side is the direction of a transaction. NOTE rows carry no position effect.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideNote Side = "NOTE"
)

// OpKind marks metadata-only rows. SPLIT rows never enter the ledger as trades.
type OpKind string

const OpSplit OpKind = "SPLIT"

var (
	// StockMultiplier is the contract size of an equity share.
	StockMultiplier = decimal.NewFromInt(1)

	// OptionMultiplier is the contract size of a standard listed option.
	OptionMultiplier = decimal.NewFromInt(100)

	// ZeroTolerance is the magnitude below which a net quantity is flat.
	ZeroTolerance = decimal.New(1, -9)
)

// DefaultMultiplier returns the contract size implied by an asset kind.
func DefaultMultiplier(kind AssetKind) decimal.Decimal {
	if kind == AssetOption {
		return OptionMultiplier
	}
	return StockMultiplier
}

// IsFlat reports whether a quantity is within ZeroTolerance of zero.
func IsFlat(q decimal.Decimal) bool {
	return q.Abs().LessThanOrEqual(ZeroTolerance)
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Transaction is an immutable, already-normalized trade record.
// Schema: {symbol, kind, side, signed quantity, price, multiplier, timestamp}
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"account_id,omitempty" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	AssetKind   AssetKind       `json:"asset_kind" db:"asset_kind"`
	Side        Side            `json:"side" db:"side"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"` // signed: +buy, -sell
	Price       decimal.Decimal `json:"price" db:"price"`
	Multiplier  decimal.Decimal `json:"multiplier" db:"multiplier"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	ContractKey string          `json:"contract_key,omitempty" db:"contract_key"`
	OpKind      OpKind          `json:"op_kind,omitempty" db:"op_kind"`

	// Notional pins |quantity| × price when the trade is restated across a
	// split, so the restated price never feeds back into cost arithmetic.
	Notional decimal.Decimal `json:"-" db:"-"`
}

// Day returns the exchange-calendar day of the transaction.
func (t Transaction) Day() Day { return DayOf(t.Timestamp) }

// Amount is the unsigned trade value before the multiplier.
func (t Transaction) Amount() decimal.Decimal {
	if !t.Notional.IsZero() {
		return t.Notional
	}
	return t.Quantity.Abs().Mul(t.Price)
}

// Kind returns the asset kind, defaulting to stock.
func (t Transaction) Kind() AssetKind {
	if t.AssetKind == "" {
		return AssetStock
	}
	return t.AssetKind
}

// IsTrade reports whether the row moves a position.
func (t Transaction) IsTrade() bool {
	return t.OpKind != OpSplit && t.Side != SideNote
}

// SignedQuantity returns the quantity signed by side: +|q| for BUY, -|q|
// for SELL. Rows without a side keep the sign they were given.
func (t Transaction) SignedQuantity() decimal.Decimal {
	switch t.Side {
	case SideBuy:
		return t.Quantity.Abs()
	case SideSell:
		return t.Quantity.Abs().Neg()
	default:
		return t.Quantity
	}
}

// PositionKey groups transactions into positions. Option series are kept
// apart by contract key; otherwise a stock and an option on the same ticker
// are separated by asset kind.
func (t Transaction) PositionKey() string {
	if t.ContractKey != "" {
		return t.ContractKey
	}
	return NormalizeSymbol(t.Symbol) + "|" + string(t.Kind())
}

// PriceKey is the key used to look a position up in a PriceBook.
func (t Transaction) PriceKey() string {
	if t.ContractKey != "" {
		return t.ContractKey
	}
	return NormalizeSymbol(t.Symbol)
}

// Lot is a retained slice of a position. Quantity is signed: positive is
// long, negative is short. A lot's sign never flips in place.
//
// Cost is the signed quantity × price the lot was opened for, carried
// exactly through splits and partial closes. Price is the per-share cost in
// the lot's current units and is informational once a split has applied.
type Lot struct {
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Cost       decimal.Decimal `json:"cost"`
	Multiplier decimal.Decimal `json:"multiplier"`
	OpenedAt   time.Time       `json:"opened_at"`
	OpenDay    Day             `json:"open_day"`
}

// Notional is the signed cost before the multiplier. Lots built without a
// Cost fall back to quantity × price.
func (l Lot) Notional() decimal.Decimal {
	if l.Cost.IsZero() {
		return l.Quantity.Mul(l.Price)
	}
	return l.Cost
}

// CostBasis is the signed dollar cost of the lot.
func (l Lot) CostBasis() decimal.Decimal {
	return l.Notional().Mul(l.Multiplier)
}

// MarkToMarket values the lot against a reference price.
func (l Lot) MarkToMarket(price decimal.Decimal) decimal.Decimal {
	return price.Mul(l.Quantity).Sub(l.Notional()).Mul(l.Multiplier)
}

// Take removes qty (positive, at most |Quantity|) from the lot and returns
// the unsigned cost of the removed slice. The remaining cost is whatever
// the slice did not take, so repeated partial closes sum to the full cost.
func (l *Lot) Take(qty decimal.Decimal) decimal.Decimal {
	notional := l.Notional()
	held := l.Quantity.Abs()
	var taken decimal.Decimal
	if qty.GreaterThanOrEqual(held) {
		taken = notional
	} else {
		taken = notional.Mul(qty).Div(held)
	}
	l.Cost = notional.Sub(taken)
	if l.Quantity.IsNegative() {
		l.Quantity = l.Quantity.Add(qty)
	} else {
		l.Quantity = l.Quantity.Sub(qty)
	}
	return taken.Abs()
}

// Split is a corporate share split. Ratio is new shares per old share.
type Split struct {
	Symbol       string          `json:"symbol" db:"symbol"`
	EffectiveDay Day             `json:"effective_day" db:"effective_day"`
	Ratio        decimal.Decimal `json:"ratio" db:"ratio"`
}

// Direction is the side of the lot a realized event closed.
type Direction string

const (
	CloseLong  Direction = "long"
	CloseShort Direction = "short"
)

// RealizedEvent is created exactly once per matched lot/trade pair.
type RealizedEvent struct {
	Key        string          `json:"key"`
	Symbol     string          `json:"symbol"`
	AssetKind  AssetKind       `json:"asset_kind"`
	Direction  Direction       `json:"direction"`
	OpenDay    Day             `json:"open_day"`
	OpenedAt   time.Time       `json:"opened_at"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	CloseDay   Day             `json:"close_day"`
	ClosedAt   time.Time       `json:"closed_at"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Quantity   decimal.Decimal `json:"quantity"` // matched, always positive
	Multiplier decimal.Decimal `json:"multiplier"`
	PnL        decimal.Decimal `json:"pnl"`
	TxID       string          `json:"tx_id,omitempty"`
}

// Warning records a per-transaction normalization issue. Warnings never
// abort a run.
type Warning struct {
	Index   int    `json:"index"`
	TxID    string `json:"tx_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnQuantityUnparseable = "quantity_unparseable"
	WarnPriceUnparseable    = "price_unparseable"
	WarnSideInferred        = "side_inferred"
	WarnKindDefaulted       = "kind_defaulted"
	WarnMultiplierDefaulted = "multiplier_defaulted"
	WarnTimestampMissing    = "timestamp_missing"
	WarnSymbolMissing       = "symbol_missing"
	WarnNonTradeSkipped     = "non_trade_skipped"
	WarnIDGenerated         = "id_generated"
	WarnContractKeyBuilt    = "contract_key_built"
	WarnRejected            = "rejected"
)
