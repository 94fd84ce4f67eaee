package realized

import (
	"fmt"
	"time"

	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

// Checkpoint is the resumable state of a Run. It owns deep copies of its
// lots and events; nothing it holds aliases a Result.
type Checkpoint struct {
	Through   model.Day             `json:"through"`
	Cutoff    time.Time             `json:"cutoff"`
	Total     decimal.Decimal       `json:"total"`
	Wins      int                   `json:"wins"`
	Losses    int                   `json:"losses"`
	Events    []model.RealizedEvent `json:"events"`
	Positions []*ledger.Position    `json:"positions"`
}

// Checkpoint captures the result's state for a later resume. Flat
// positions are kept for their accumulated realized PnL.
func (r *Result) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		Through: r.Through,
		Cutoff:  r.Cutoff,
		Total:   r.TotalRealizedLifetime,
		Wins:    r.WinCount,
		Losses:  r.LossCount,
		Events:  append([]model.RealizedEvent(nil), r.Events...),
	}
	for _, key := range r.book.Keys() {
		p, _ := r.book.Get(key)
		cp.Positions = append(cp.Positions, p.Clone())
	}
	return cp
}

// Validate checks the checkpoint's internal consistency.
func (cp *Checkpoint) Validate() error {
	if !cp.Through.Valid() {
		return fmt.Errorf("%w: through %q", ErrInvalidCheckpoint, cp.Through)
	}
	if cp.Cutoff.IsZero() {
		return fmt.Errorf("%w: zero cutoff", ErrInvalidCheckpoint)
	}

	total := decimal.Zero
	wins, losses := 0, 0
	for _, ev := range cp.Events {
		if ev.CloseDay.After(cp.Through) {
			return fmt.Errorf("%w: event closed %s after through %s", ErrInvalidCheckpoint, ev.CloseDay, cp.Through)
		}
		total = total.Add(ev.PnL)
		switch {
		case ev.PnL.IsPositive():
			wins++
		case ev.PnL.IsNegative():
			losses++
		}
	}
	if !total.Equal(cp.Total) || wins != cp.Wins || losses != cp.Losses {
		return fmt.Errorf("%w: totals do not match events", ErrInvalidCheckpoint)
	}

	seen := make(map[string]bool, len(cp.Positions))
	for _, p := range cp.Positions {
		if p == nil || p.Key == "" || seen[p.Key] {
			return fmt.Errorf("%w: missing or duplicate position key", ErrInvalidCheckpoint)
		}
		seen[p.Key] = true
		for _, l := range p.Long {
			if !l.Quantity.IsPositive() {
				return fmt.Errorf("%w: %s long lot quantity %s", ErrInvalidCheckpoint, p.Key, l.Quantity)
			}
		}
		for _, l := range p.Short {
			if !l.Quantity.IsNegative() {
				return fmt.Errorf("%w: %s short lot quantity %s", ErrInvalidCheckpoint, p.Key, l.Quantity)
			}
		}
	}
	return nil
}
