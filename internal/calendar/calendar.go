// Package calendar produces the day-by-day PnL calendar: realized PnL by
// close day plus the change in end-of-day unrealized, with a status on every
// day describing how trustworthy its valuation is.
//
// One ledger book advances through time for the whole run. Splits are
// applied to open lots when their effective day arrives, after every trade
// dated before it, so lots are always in the units traded on the day being
// valued.
package calendar

import (
	"sort"
	"time"

	"github.com/atmx/pnl-engine/internal/intraday"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/realized"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/shopspring/decimal"
)

// baselineLookback is how far before the first requested day the engine
// searches for a trading day to value as the starting point.
const baselineLookback = 10

// Engine computes calendars. The zero value is not usable; use NewEngine.
type Engine struct {
	Market MarketCalendar
	Now    time.Time // zero means time.Now()
	Open   Clock
	Close  Clock
}

// NewEngine returns an engine with regular US equity session hours.
func NewEngine(market MarketCalendar) *Engine {
	return &Engine{
		Market: market,
		Open:   Clock{Hour: 9, Minute: 30},
		Close:  Clock{Hour: 16},
	}
}

// Request is the input to Run.
type Request struct {
	Transactions []model.Transaction `json:"transactions"`
	Splits       []model.Split       `json:"splits"`
	Days         []string            `json:"days"`
	Prices       model.PriceBook     `json:"prices"`
}

// Summary totals the calendar.
type Summary struct {
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
	UnrealizedChange decimal.Decimal `json:"unrealized_change"`
	StartingRealized decimal.Decimal `json:"starting_realized"`
	RealizedLifetime decimal.Decimal `json:"realized_lifetime"`
	EndingUnrealized decimal.Decimal `json:"ending_unrealized"`
	DegradedDays     int             `json:"degraded_days"`
	CarriedDays      int             `json:"carried_days"`
}

// Result is the output of Run.
type Result struct {
	Baseline           model.Day        `json:"baseline"`
	BaselineUnrealized decimal.Decimal  `json:"baseline_unrealized"`
	Days               []model.DailyPnL `json:"days"`
	Summary            Summary          `json:"summary"`
	Warnings           []model.Warning  `json:"warnings,omitempty"`
}

// run is the mutable state of one Run. It owns the book exclusively.
type run struct {
	req    Request
	adj    *split.Adjuster
	txs    []model.Transaction
	splits []model.Split

	book      ledger.Book
	nextTx    int
	nextSplit int
	traded    map[model.Day]bool
}

// Run computes one record per requested day.
func (e *Engine) Run(req Request) (*Result, error) {
	days, err := parseDays(req.Days)
	if err != nil {
		return nil, err
	}

	norm, warnings := ledger.Normalize(req.Transactions)
	r := &run{
		req:  req,
		adj:  split.NewAdjuster(req.Splits),
		txs:  ledger.SortByTime(norm),
		book: ledger.NewBook(),
	}
	r.splits = r.adj.All()
	r.traded = make(map[model.Day]bool)
	for _, tx := range r.txs {
		r.traded[tx.Day()] = true
	}

	res := &Result{Days: []model.DailyPnL{}, Warnings: warnings}
	if len(days) == 0 {
		return res, nil
	}

	last := days[len(days)-1]
	lifetime, err := realized.Run(req.Transactions, req.Splits, last, nil)
	if err != nil {
		return nil, err
	}
	byDay := lifetime.ByCloseDay()

	res.Baseline = e.baseline(days[0])
	r.advance(res.Baseline)
	base := r.value(res.Baseline)
	res.BaselineUnrealized = base.unrealized
	res.Summary.StartingRealized = lifetime.ThroughDay(res.Baseline)

	prev := res.BaselineUnrealized
	for _, day := range days {
		r.advance(day)
		rec := model.DailyPnL{
			Day:            day,
			PrevUnrealized: prev,
			RealizedToDate: lifetime.ThroughDay(day),
		}
		dr := byDay[day]
		rec.RealizedPnL = dr.Total
		rec.RealizedPriorLots = dr.PriorLots
		rec.RealizedSameDayLots = dr.SameDay

		if status, reason, carried := e.preValuationStatus(day, req.Prices.FetchBoundary); carried {
			rec.Status = status
			rec.Reasons = []string{reason}
			rec.EodUnrealized = prev
		} else {
			v := r.value(day)
			rec.Status = v.status()
			rec.Reasons = v.reasons
			rec.MissingSymbols = v.missing
			rec.Marks = v.marks
			if rec.Status == model.StatusMissingData {
				rec.EodUnrealized = prev
			} else {
				rec.EodUnrealized = v.unrealized
			}
		}
		rec.UnrealizedDelta = rec.EodUnrealized.Sub(prev)
		rec.TotalPnL = rec.RealizedPnL.Add(rec.UnrealizedDelta)
		rec.IntradayPnL = r.intradayTotal(day)

		res.Days = append(res.Days, rec)
		res.Summary.add(rec)
		prev = rec.EodUnrealized
	}

	res.Summary.UnrealizedChange = prev.Sub(res.BaselineUnrealized)
	res.Summary.EndingUnrealized = prev
	res.Summary.RealizedLifetime = lifetime.ThroughDay(last)
	return res, nil
}

func (s *Summary) add(rec model.DailyPnL) {
	s.TotalPnL = s.TotalPnL.Add(rec.TotalPnL)
	s.RealizedPnL = s.RealizedPnL.Add(rec.RealizedPnL)
	switch rec.Status {
	case model.StatusPartial:
		s.DegradedDays++
	case model.StatusNotOpen, model.StatusIntraday, model.StatusMarketClosed,
		model.StatusFetchIncomplete, model.StatusMissingData:
		s.CarriedDays++
	}
}

func (e *Engine) now() time.Time {
	if e.Now.IsZero() {
		return time.Now()
	}
	return e.Now
}

// baseline returns the closest trading day before first, or the calendar
// day before first when none is found within the lookback.
func (e *Engine) baseline(first model.Day) model.Day {
	for i := 1; i <= baselineLookback; i++ {
		d := first.AddDays(-i)
		if e.Market == nil || e.Market.IsTradingDay(d) {
			return d
		}
	}
	return first.AddDays(-1)
}

// preValuationStatus decides the statuses that skip valuation entirely.
func (e *Engine) preValuationStatus(day model.Day, boundary *model.Day) (model.DayStatus, string, bool) {
	now := e.now()
	today := model.DayOf(now)
	switch {
	case day.After(today):
		return model.StatusNotOpen, "future_day", true
	case day == today && now.Before(e.Open.On(day)):
		return model.StatusNotOpen, "before_open", true
	case day == today && now.Before(e.Close.On(day)):
		return model.StatusIntraday, "session_in_progress", true
	case e.Market != nil && !e.Market.IsTradingDay(day):
		return model.StatusMarketClosed, "market_closed", true
	case boundary != nil && day.After(*boundary):
		return model.StatusFetchIncomplete, "after_fetch_boundary:" + string(*boundary), true
	}
	return "", "", false
}

// advance applies every split and trade dated on or before day. A split is
// applied after the trades dated before its effective day.
func (r *run) advance(day model.Day) {
	for r.nextSplit < len(r.splits) && !r.splits[r.nextSplit].EffectiveDay.After(day) {
		s := r.splits[r.nextSplit]
		r.applyTradesBefore(s.EffectiveDay)
		r.book.ApplySplit(s)
		r.nextSplit++
	}
	r.applyTradesBefore(day.AddDays(1))
}

func (r *run) applyTradesBefore(day model.Day) {
	for r.nextTx < len(r.txs) && r.txs[r.nextTx].Day().Before(day) {
		// Normalized trades cannot fail to apply.
		r.book.Apply(r.txs[r.nextTx])
		r.nextTx++
	}
}

// intradayTotal runs the three-bucket model for days with trades, using
// that day's ok closes as live prices. Only the history through day is
// replayed.
func (r *run) intradayTotal(day model.Day) decimal.Decimal {
	if !r.traded[day] {
		return decimal.Zero
	}
	end := sort.Search(len(r.txs), func(i int) bool { return r.txs[i].Day().After(day) })
	live := make(map[string]decimal.Decimal)
	for key, e := range r.req.Prices.Entries[day] {
		if e.Status == model.PriceOK {
			live[key] = e.Close
		}
	}
	res, err := intraday.Run(r.txs[:end], r.req.Splits, day, live)
	if err != nil {
		return decimal.Zero
	}
	return res.Total
}
