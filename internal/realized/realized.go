// Package realized computes the account-wide realized PnL ledger: every
// trade through a given day replayed in one global chronological pass, with
// an optional checkpoint to resume from a previous run.
package realized

import (
	"errors"
	"fmt"
	"time"

	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCheckpoint = errors.New("realized: invalid checkpoint")
	ErrStaleCheckpoint   = errors.New("realized: checkpoint predates a split in range")
)

// Result is the output of Run.
type Result struct {
	Through               model.Day              `json:"through"`
	Cutoff                time.Time              `json:"cutoff"`
	PositionClosePnL      decimal.Decimal        `json:"position_close_pnl"`
	SameDayClosePnL       decimal.Decimal        `json:"same_day_close_pnl"`
	TotalRealizedLifetime decimal.Decimal        `json:"total_realized_lifetime"`
	WinCount              int                    `json:"win_count"`
	LossCount             int                    `json:"loss_count"`
	Events                []model.RealizedEvent  `json:"events"`
	TerminalLots          map[string][]model.Lot `json:"terminal_lots"`
	Warnings              []model.Warning        `json:"warnings,omitempty"`

	book ledger.Book
}

// Run replays every transaction dated on or before through in global
// timestamp order, split-adjusted as of through. When cp is non-nil the
// replay starts from its state and skips transactions at or before its
// cutoff.
func Run(txs []model.Transaction, splits []model.Split, through model.Day, cp *Checkpoint) (*Result, error) {
	if _, err := model.ParseDay(string(through)); err != nil {
		return nil, err
	}
	adj := split.NewAdjuster(splits)

	res := &Result{
		Through:               through,
		Cutoff:                through.End(),
		TotalRealizedLifetime: decimal.Zero,
		Events:                []model.RealizedEvent{},
		book:                  ledger.NewBook(),
	}

	var skipUntil time.Time
	if cp != nil {
		if err := cp.Validate(); err != nil {
			return nil, err
		}
		if cp.Through.After(through) {
			return nil, fmt.Errorf("%w: checkpoint through %s is after %s", ErrInvalidCheckpoint, cp.Through, through)
		}
		if pending := adj.Between(cp.Through, through); len(pending) > 0 {
			return nil, fmt.Errorf("%w: %s splits on %s", ErrStaleCheckpoint, pending[0].Symbol, pending[0].EffectiveDay)
		}
		for _, p := range cp.Positions {
			res.book[p.Key] = p.Clone()
		}
		res.Events = append(res.Events, cp.Events...)
		res.TotalRealizedLifetime = cp.Total
		res.WinCount, res.LossCount = cp.Wins, cp.Losses
		skipUntil = cp.Cutoff
	}

	norm, warnings := ledger.Normalize(txs)
	res.Warnings = warnings

	for _, tx := range ledger.SortByTime(norm) {
		if tx.Timestamp.After(res.Cutoff) {
			break
		}
		if !skipUntil.IsZero() && !tx.Timestamp.After(skipUntil) {
			continue
		}
		events, err := res.book.Apply(adj.Adjust(tx, &through))
		if err != nil {
			res.Warnings = append(res.Warnings, model.Warning{
				Index: -1, TxID: tx.ID, Code: model.WarnRejected, Message: err.Error(),
			})
			continue
		}
		for _, ev := range events {
			res.TotalRealizedLifetime = res.TotalRealizedLifetime.Add(ev.PnL)
			switch {
			case ev.PnL.IsPositive():
				res.WinCount++
			case ev.PnL.IsNegative():
				res.LossCount++
			}
		}
		res.Events = append(res.Events, events...)
	}

	res.PositionClosePnL, res.SameDayClosePnL = decimal.Zero, decimal.Zero
	for _, ev := range res.Events {
		if ev.CloseDay != through {
			continue
		}
		if ev.OpenDay == through {
			res.SameDayClosePnL = res.SameDayClosePnL.Add(ev.PnL)
		} else {
			res.PositionClosePnL = res.PositionClosePnL.Add(ev.PnL)
		}
	}

	res.TerminalLots = make(map[string][]model.Lot)
	for _, key := range res.book.Keys() {
		if p, _ := res.book.Get(key); !p.IsFlat() {
			res.TerminalLots[key] = p.Lots()
		}
	}
	return res, nil
}

// DayRealized is realized PnL attributed to one close day.
type DayRealized struct {
	Total     decimal.Decimal `json:"total"`
	PriorLots decimal.Decimal `json:"prior_lots"`
	SameDay   decimal.Decimal `json:"same_day"`
}

// ByCloseDay groups realized PnL by the day each event closed.
func (r *Result) ByCloseDay() map[model.Day]DayRealized {
	out := make(map[model.Day]DayRealized)
	for _, ev := range r.Events {
		dr := out[ev.CloseDay]
		dr.Total = dr.Total.Add(ev.PnL)
		if ev.OpenDay == ev.CloseDay {
			dr.SameDay = dr.SameDay.Add(ev.PnL)
		} else {
			dr.PriorLots = dr.PriorLots.Add(ev.PnL)
		}
		out[ev.CloseDay] = dr
	}
	return out
}

// ThroughDay sums realized PnL closed on or before day.
func (r *Result) ThroughDay(day model.Day) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range r.Events {
		if !ev.CloseDay.After(day) {
			total = total.Add(ev.PnL)
		}
	}
	return total
}
