package calendar

import (
	"github.com/atmx/pnl-engine/internal/contract"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// valuation is one day's mark of the book.
type valuation struct {
	unrealized decimal.Decimal
	marks      []model.Mark
	missing    []string
	reasons    []string
	degraded   bool
}

func (v valuation) status() model.DayStatus {
	switch {
	case len(v.missing) > 0:
		return model.StatusMissingData
	case v.degraded:
		return model.StatusPartial
	}
	return model.StatusOK
}

// value marks every open position at day's resolved price. Any position with
// no usable price makes the whole day missing_data.
func (r *run) value(day model.Day) valuation {
	v := valuation{unrealized: decimal.Zero}
	for _, key := range r.book.Keys() {
		p, _ := r.book.Get(key)
		if p.IsFlat() {
			continue
		}
		price, source, degraded, reason := r.resolve(day, p)
		if reason != "" {
			v.reasons = append(v.reasons, reason)
		}
		mark := model.Mark{
			Key:      key,
			Symbol:   p.Symbol,
			Quantity: p.NetQuantity(),
			Price:    price,
			Source:   source,
		}

		if source == model.SourceMissing {
			v.missing = append(v.missing, p.PriceKey())
			v.marks = append(v.marks, mark)
			continue
		}

		v.degraded = v.degraded || degraded
		mark.Unrealized = p.Unrealized(price)
		v.unrealized = v.unrealized.Add(mark.Unrealized)
		v.marks = append(v.marks, mark)
	}
	return v
}

// resolve picks the end-of-day price for a position:
//
//	ok close                      -> close
//	no_liquidity                  -> last ok close before day
//	plan_limited                  -> average cost of open lots (degraded)
//	expired option                -> intrinsic value at expiry
//	anything else                 -> last ok close before day (degraded)
//	nothing usable                -> missing
func (r *run) resolve(day model.Day, p *ledger.Position) (decimal.Decimal, model.PriceSource, bool, string) {
	key := p.PriceKey()
	book := r.req.Prices

	entry, ok := book.Get(day, key)
	if ok {
		switch entry.Status {
		case model.PriceOK:
			return entry.Close, model.SourceClose, false, ""
		case model.PriceNoLiquidity:
			if from, c, found := book.LastCloseBefore(day, key); found {
				return r.restate(p, from, day, c), model.SourceLastClose, false, "no_liquidity:" + key
			}
			return decimal.Zero, model.SourceMissing, false, "missing:" + key
		case model.PricePlanLimited:
			return p.AverageCost(), model.SourceAverageCost, true, "plan_limited:" + key
		}
	}

	if price, ok := r.intrinsic(day, p); ok {
		return price, model.SourceIntrinsic, false, "expired_intrinsic:" + key
	}
	if from, c, found := book.LastCloseBefore(day, key); found {
		return r.restate(p, from, day, c), model.SourceEstimate, true, "estimated:" + key
	}
	return decimal.Zero, model.SourceMissing, false, "missing:" + key
}

// restate converts a stock close quoted on from into day's split units.
func (r *run) restate(p *ledger.Position, from, day model.Day, price decimal.Decimal) decimal.Decimal {
	if p.AssetKind != model.AssetStock {
		return price
	}
	f := r.adj.Factor(p.Symbol, from.Start(), &day)
	if f.Equal(decimal.NewFromInt(1)) {
		return price
	}
	return price.Div(f)
}

// intrinsic values an option held past expiry at its exercise value
// against the underlying's close on the expiry day.
func (r *run) intrinsic(day model.Day, p *ledger.Position) (decimal.Decimal, bool) {
	if p.AssetKind != model.AssetOption || p.ContractKey == "" {
		return decimal.Zero, false
	}
	c, err := contract.Parse(p.ContractKey)
	if err != nil || !c.Expired(day) {
		return decimal.Zero, false
	}
	underlying, ok := r.req.Prices.Close(c.Expiry, c.Underlying)
	if !ok {
		return decimal.Zero, false
	}
	return c.Intrinsic(underlying), true
}
