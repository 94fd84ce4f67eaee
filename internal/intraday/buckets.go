package intraday

import (
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// apply allocates one of the day's trades across the buckets.
//
// BUY: re-close today's sell reductions, close new shorts, reduce the short
// base, open a new long. SELL mirrors it. A re-closed reduction returns its
// quantity to the base it came from.
func (st *state) apply(tx model.Transaction) []Step {
	q := tx.Quantity.Abs()
	if q.IsZero() {
		return nil
	}
	var steps []Step
	step := func(bucket, action string, qty, pnl decimal.Decimal) {
		steps = append(steps, Step{
			TxID: tx.ID, Key: st.key, Side: tx.Side, Bucket: bucket, Action: action,
			Quantity: qty, Price: tx.Price, PnL: pnl,
		})
		st.realized = st.realized.Add(pnl)
	}

	if tx.Quantity.IsPositive() {
		q = reclose(&st.sellReductions, &st.baseLong, q, tx, BucketSellReduction, step)
		q = closeNew(&st.newShort, q, tx, BucketNewShort, step)
		q = reduce(&st.baseShort, &st.buyReductions, q, tx, BucketBaseShort, step)
		if !model.IsFlat(q) {
			st.newLong = append(st.newLong, newLot(tx, q))
			step(BucketNewLong, "open", q, decimal.Zero)
		}
	} else {
		q = reclose(&st.buyReductions, &st.baseShort, q, tx, BucketBuyReduction, step)
		q = closeNew(&st.newLong, q, tx, BucketNewLong, step)
		q = reduce(&st.baseLong, &st.sellReductions, q, tx, BucketBaseLong, step)
		if !model.IsFlat(q) {
			st.newShort = append(st.newShort, newLot(tx, q.Neg()))
			step(BucketNewShort, "open", q, decimal.Zero)
		}
	}
	return steps
}

type stepFunc func(bucket, action string, qty, pnl decimal.Decimal)

// reclose reverses earlier reductions FIFO. A reduction made by a SELL at s
// and reversed by a BUY at b realizes (s - b) × q × m; the mirror case
// realizes (b - s) × q × m.
func reclose(reds *[]reduction, base *decimal.Decimal, q decimal.Decimal, tx model.Transaction, bucket string, step stepFunc) decimal.Decimal {
	for len(*reds) > 0 && !model.IsFlat(q) {
		r := &(*reds)[0]
		m := decimal.Min(r.qty, q)
		var pnl decimal.Decimal
		if tx.Quantity.IsPositive() {
			pnl = r.price.Sub(tx.Price).Mul(m).Mul(r.mult)
		} else {
			pnl = tx.Price.Sub(r.price).Mul(m).Mul(r.mult)
		}
		step(bucket, "close", m, pnl)
		*base = base.Add(m)
		r.qty = r.qty.Sub(m)
		if model.IsFlat(r.qty) {
			*reds = (*reds)[1:]
		}
		q = q.Sub(m)
	}
	return q
}

// closeNew closes same-day lots FIFO against tx.
func closeNew(lots *[]model.Lot, q decimal.Decimal, tx model.Transaction, bucket string, step stepFunc) decimal.Decimal {
	for len(*lots) > 0 && !model.IsFlat(q) {
		l := &(*lots)[0]
		m := decimal.Min(l.Quantity.Abs(), q)
		var pnl decimal.Decimal
		if l.Quantity.IsPositive() {
			pnl = tx.Price.Sub(l.Price).Mul(m).Mul(l.Multiplier)
			l.Quantity = l.Quantity.Sub(m)
		} else {
			pnl = l.Price.Sub(tx.Price).Mul(m).Mul(l.Multiplier)
			l.Quantity = l.Quantity.Add(m)
		}
		step(bucket, "close", m, pnl)
		if model.IsFlat(l.Quantity) {
			*lots = (*lots)[1:]
		}
		q = q.Sub(m)
	}
	return q
}

// reduce consumes the start-of-day base and records the reduction.
func reduce(base *decimal.Decimal, reds *[]reduction, q decimal.Decimal, tx model.Transaction, bucket string, step stepFunc) decimal.Decimal {
	if model.IsFlat(*base) || model.IsFlat(q) {
		return q
	}
	m := decimal.Min(*base, q)
	*base = base.Sub(m)
	*reds = append(*reds, reduction{qty: m, price: tx.Price, mult: tx.Multiplier})
	step(bucket, "reduce", m, decimal.Zero)
	return q.Sub(m)
}

func newLot(tx model.Transaction, qty decimal.Decimal) model.Lot {
	return model.Lot{
		Quantity:   qty,
		Price:      tx.Price,
		Multiplier: tx.Multiplier,
		OpenedAt:   tx.Timestamp,
		OpenDay:    tx.Day(),
	}
}
