package ledger

import (
	"fmt"

	"github.com/atmx/pnl-engine/internal/model"
)

// Normalize prepares typed transactions for matching. Rows that cannot be
// matched are dropped with a warning; defaults are filled with a warning.
// The input is never mutated and the batch is never aborted.
func Normalize(txs []model.Transaction) ([]model.Transaction, []model.Warning) {
	out := make([]model.Transaction, 0, len(txs))
	var warnings []model.Warning
	warn := func(i int, tx model.Transaction, code, msg string) {
		warnings = append(warnings, model.Warning{Index: i, TxID: tx.ID, Code: code, Message: msg})
	}

	for i, tx := range txs {
		if !tx.IsTrade() {
			warn(i, tx, model.WarnNonTradeSkipped, fmt.Sprintf("%s row skipped", nonTradeLabel(tx)))
			continue
		}
		tx.Symbol = model.NormalizeSymbol(tx.Symbol)
		if tx.Symbol == "" {
			warn(i, tx, model.WarnSymbolMissing, "row has no symbol")
			continue
		}
		if tx.Timestamp.IsZero() {
			warn(i, tx, model.WarnTimestampMissing, "row has no timestamp")
			continue
		}
		if tx.Price.IsNegative() {
			warn(i, tx, model.WarnPriceUnparseable, "negative price "+tx.Price.String())
			continue
		}
		if tx.Quantity.IsZero() {
			warn(i, tx, model.WarnQuantityUnparseable, "zero quantity")
			continue
		}
		if tx.AssetKind == "" {
			tx.AssetKind = model.AssetStock
			warn(i, tx, model.WarnKindDefaulted, "asset kind defaulted to stock")
		}
		if tx.Side == "" {
			switch {
			case tx.Quantity.IsPositive():
				tx.Side = model.SideBuy
			case tx.Quantity.IsNegative():
				tx.Side = model.SideSell
			}
			warn(i, tx, model.WarnSideInferred, "side inferred from quantity sign as "+string(tx.Side))
		}
		if !tx.Multiplier.IsPositive() {
			tx.Multiplier = model.DefaultMultiplier(tx.AssetKind)
			warn(i, tx, model.WarnMultiplierDefaulted, "multiplier defaulted to "+tx.Multiplier.String())
		}
		tx.Quantity = tx.SignedQuantity()
		out = append(out, tx)
	}
	return out, warnings
}

func nonTradeLabel(tx model.Transaction) string {
	if tx.OpKind != "" {
		return string(tx.OpKind)
	}
	return string(tx.Side)
}
