// Package ingest normalizes raw broker records into transactions and
// splits. Records arrive with inconsistent field names and types; every
// problem becomes a warning and no record aborts the batch.
package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/atmx/pnl-engine/internal/contract"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Record is one raw row as decoded from JSON.
type Record map[string]any

// Field aliases, checked in order.
var (
	idFields          = []string{"id", "trade_id", "exec_id", "execution_id", "order_id"}
	symbolFields      = []string{"symbol", "ticker", "code", "underlying"}
	quantityFields    = []string{"qty", "quantity", "shares", "contracts", "size"}
	priceFields       = []string{"price", "fill_price", "avg_price", "executed_price"}
	sideFields        = []string{"side", "action", "direction", "type"}
	timeFields        = []string{"time", "timestamp", "executed_at", "trade_time", "date"}
	multiplierFields  = []string{"multiplier", "contract_size"}
	kindFields        = []string{"asset", "asset_kind", "sec_type", "kind"}
	contractKeyFields = []string{"contract_key", "option_symbol"}
	rightFields       = []string{"right", "put_call"}
	strikeFields      = []string{"strike"}
	expiryFields      = []string{"expiry", "expiration"}
	ratioFields       = []string{"ratio", "split_ratio"}
)

// Options tunes Normalize.
type Options struct {
	AccountID string
	// NewID generates ids for records without one. Defaults to uuid.NewString.
	NewID func() string
}

// Batch is the normalized output.
type Batch struct {
	Transactions []model.Transaction `json:"transactions"`
	Splits       []model.Split       `json:"splits,omitempty"`
	Warnings     []model.Warning     `json:"warnings,omitempty"`
}

// Decode reads a JSON array of records. Numbers are kept as json.Number so
// prices are not routed through float64.
func Decode(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("ingest: decode records: %w", err)
	}
	return records, nil
}

// Normalize converts raw records. Split rows with a ratio become splits;
// NOTE rows are kept as transactions with no position effect.
func Normalize(records []Record, opts Options) Batch {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	b := Batch{Transactions: []model.Transaction{}}
	for i, rec := range records {
		n := normalizer{rec: rec, index: i, opts: opts}
		if tx, ok := n.transaction(); ok {
			if tx.OpKind == model.OpSplit {
				if s, ok := n.split(tx); ok {
					b.Splits = append(b.Splits, s)
				}
			} else {
				b.Transactions = append(b.Transactions, tx)
			}
		}
		b.Warnings = append(b.Warnings, n.warnings...)
	}
	return b
}

type normalizer struct {
	rec      Record
	index    int
	opts     Options
	id       string
	warnings []model.Warning
}

func (n *normalizer) warn(code, format string, args ...any) {
	n.warnings = append(n.warnings, model.Warning{
		Index: n.index, TxID: n.id, Code: code, Message: fmt.Sprintf(format, args...),
	})
}

func (n *normalizer) transaction() (model.Transaction, bool) {
	tx := model.Transaction{AccountID: n.opts.AccountID}

	if id, ok := n.str(idFields); ok {
		n.id = id
	} else {
		n.id = n.opts.NewID()
		n.warn(model.WarnIDGenerated, "generated id %s", n.id)
	}
	tx.ID = n.id

	side, op, sideOK := n.side()
	tx.Side, tx.OpKind = side, op

	sym, _ := n.str(symbolFields)
	tx.Symbol = model.NormalizeSymbol(sym)

	ts, ok := n.timestamp()
	if !ok {
		n.warn(model.WarnTimestampMissing, "no parseable timestamp")
		return tx, false
	}
	tx.Timestamp = ts

	if tx.OpKind == model.OpSplit {
		if tx.Symbol == "" {
			n.warn(model.WarnSymbolMissing, "split row has no symbol")
			return tx, false
		}
		return tx, true
	}
	if tx.Side == model.SideNote {
		return tx, true
	}
	if tx.Symbol == "" {
		n.warn(model.WarnSymbolMissing, "no symbol")
		return tx, false
	}

	qty, ok := n.number(quantityFields)
	if !ok {
		n.warn(model.WarnQuantityUnparseable, "no parseable quantity")
		return tx, false
	}
	price, ok := n.number(priceFields)
	if !ok || price.IsNegative() {
		n.warn(model.WarnPriceUnparseable, "no parseable price")
		return tx, false
	}
	tx.Price = price

	if !sideOK {
		switch {
		case qty.IsPositive():
			tx.Side = model.SideBuy
		case qty.IsNegative():
			tx.Side = model.SideSell
		default:
			n.warn(model.WarnQuantityUnparseable, "zero quantity without side")
			return tx, false
		}
		n.warn(model.WarnSideInferred, "side inferred from quantity sign as %s", tx.Side)
	}
	tx.Quantity = qty
	tx.Quantity = tx.SignedQuantity()

	tx.AssetKind = n.kind()
	if tx.AssetKind == model.AssetOption {
		tx.ContractKey = n.contractKey(tx.Symbol)
		if c, err := contract.Parse(tx.ContractKey); err == nil {
			tx.Symbol = c.Underlying
		}
	}

	if m, ok := n.number(multiplierFields); ok && m.IsPositive() {
		tx.Multiplier = m
	} else {
		tx.Multiplier = model.DefaultMultiplier(tx.AssetKind)
		n.warn(model.WarnMultiplierDefaulted, "multiplier defaulted to %s", tx.Multiplier)
	}
	return tx, true
}

func (n *normalizer) split(tx model.Transaction) (model.Split, bool) {
	ratio, ok := n.ratio()
	if !ok {
		n.warn(model.WarnNonTradeSkipped, "split row without a usable ratio")
		return model.Split{}, false
	}
	return model.Split{Symbol: tx.Symbol, EffectiveDay: tx.Day(), Ratio: ratio}, true
}

func (n *normalizer) kind() model.AssetKind {
	if s, ok := n.str(kindFields); ok {
		switch strings.ToLower(s) {
		case "option", "options", "opt", "equity_option":
			return model.AssetOption
		case "stock", "equity", "stk", "cs", "etf":
			return model.AssetStock
		}
	}
	if _, ok := n.str(contractKeyFields); ok {
		n.warn(model.WarnKindDefaulted, "asset kind inferred as option from contract key")
		return model.AssetOption
	}
	if _, ok := n.str(rightFields); ok {
		n.warn(model.WarnKindDefaulted, "asset kind inferred as option from right")
		return model.AssetOption
	}
	n.warn(model.WarnKindDefaulted, "asset kind defaulted to stock")
	return model.AssetStock
}

func (n *normalizer) contractKey(symbol string) string {
	if key, ok := n.str(contractKeyFields); ok {
		if c, err := contract.Parse(key); err == nil {
			return c.Key
		}
		return strings.ToUpper(key)
	}

	rightStr, _ := n.str(rightFields)
	right, err := contract.ParseRight(rightStr)
	if err != nil {
		return ""
	}
	strike, ok := n.number(strikeFields)
	if !ok {
		return ""
	}
	expStr, _ := n.str(expiryFields)
	expiry, ok := parseDayLoose(expStr)
	if !ok {
		return ""
	}
	key, err := contract.Key(symbol, right, strike, expiry)
	if err != nil {
		return ""
	}
	n.warn(model.WarnContractKeyBuilt, "contract key built as %s", key)
	return key
}

func (n *normalizer) ratio() (decimal.Decimal, bool) {
	v, ok := n.lookup(ratioFields)
	if !ok {
		return decimal.Zero, false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	for _, sep := range []string{":", "/", "-for-", " for "} {
		if num, den, found := strings.Cut(s, sep); found {
			a, errA := decimal.NewFromString(strings.TrimSpace(num))
			b, errB := decimal.NewFromString(strings.TrimSpace(den))
			if errA != nil || errB != nil || !a.IsPositive() || !b.IsPositive() {
				return decimal.Zero, false
			}
			return a.Div(b), true
		}
	}
	r, ok := toDecimal(v)
	if !ok || !r.IsPositive() {
		return decimal.Zero, false
	}
	return r, true
}

func (n *normalizer) side() (model.Side, model.OpKind, bool) {
	s, ok := n.str(sideFields)
	if !ok {
		return "", "", false
	}
	switch strings.ToUpper(strings.ReplaceAll(s, " ", "_")) {
	case "BUY", "B", "BOT", "BOUGHT", "BTO", "BTC", "BUY_TO_OPEN", "BUY_TO_CLOSE", "BUY_TO_COVER", "LONG":
		return model.SideBuy, "", true
	case "SELL", "S", "SLD", "SOLD", "STO", "STC", "SELL_TO_OPEN", "SELL_TO_CLOSE", "SELL_SHORT", "SHORT":
		return model.SideSell, "", true
	case "SPLIT", "STOCK_SPLIT":
		return model.SideNote, model.OpSplit, true
	case "NOTE", "DIVIDEND", "FEE", "INTEREST", "TRANSFER", "MEMO":
		return model.SideNote, "", true
	}
	return "", "", false
}
