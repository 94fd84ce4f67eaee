package calendar_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/calendar"
	"github.com/atmx/pnl-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func at(day string, hour int) time.Time {
	return model.MustDay(day).Start().Add(time.Duration(hour) * time.Hour)
}

func tx(id, symbol string, side model.Side, qty, price float64, ts time.Time) model.Transaction {
	return model.Transaction{
		ID: id, Symbol: symbol, AssetKind: model.AssetStock, Side: side,
		Quantity: d(qty), Price: d(price), Multiplier: d(1), Timestamp: ts,
	}
}

func newEngine() *calendar.Engine {
	e := calendar.NewEngine(calendar.NewWeekdayCalendar())
	e.Now = at("2025-01-01", 12)
	return e
}

func closes(entries map[string]map[string]float64) model.PriceBook {
	book := model.NewPriceBook()
	for day, row := range entries {
		for key, c := range row {
			book.SetClose(model.MustDay(day), key, d(c))
		}
	}
	return book
}

func record(t *testing.T, res *calendar.Result, day string) model.DailyPnL {
	t.Helper()
	for _, rec := range res.Days {
		if rec.Day == model.MustDay(day) {
			return rec
		}
	}
	t.Fatalf("no record for %s", day)
	return model.DailyPnL{}
}

func TestRun_BuyThenSell(t *testing.T) {
	res, err := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{
			tx("1", "AAPL", model.SideBuy, 10, 150, at("2024-01-02", 10)),
			tx("2", "AAPL", model.SideSell, 10, 200, at("2024-01-03", 10)),
		},
		Days: []string{"2024-01-02", "2024-01-03"},
		Prices: closes(map[string]map[string]float64{
			"2024-01-02": {"AAPL": 160},
			"2024-01-03": {"AAPL": 210},
		}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day1 := record(t, res, "2024-01-02")
	if day1.Status != model.StatusOK || !day1.TotalPnL.Equal(d(100)) || !day1.EodUnrealized.Equal(d(100)) {
		t.Errorf("day1: status %s total %s eod %s", day1.Status, day1.TotalPnL, day1.EodUnrealized)
	}

	// 500 realized less the 100 of day-1 unrealized that is reversed.
	day2 := record(t, res, "2024-01-03")
	if !day2.RealizedPnL.Equal(d(500)) || !day2.UnrealizedDelta.Equal(d(-100)) || !day2.TotalPnL.Equal(d(400)) {
		t.Errorf("day2: realized %s delta %s total %s", day2.RealizedPnL, day2.UnrealizedDelta, day2.TotalPnL)
	}
	if !day2.EodUnrealized.IsZero() || len(day2.Marks) != 0 {
		t.Errorf("day2 should be flat: eod %s marks %d", day2.EodUnrealized, len(day2.Marks))
	}
	if !day2.RealizedPriorLots.Equal(d(500)) || !day2.RealizedSameDayLots.IsZero() {
		t.Errorf("day2 split: prior %s same-day %s", day2.RealizedPriorLots, day2.RealizedSameDayLots)
	}
	if !day2.RealizedToDate.Equal(d(500)) {
		t.Errorf("day2 realized to date: %s", day2.RealizedToDate)
	}
}

func TestRun_SplitRescalesLots(t *testing.T) {
	res, err := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "AAPL", model.SideBuy, 5, 100, at("2024-06-03", 10))},
		Splits:       []model.Split{{Symbol: "AAPL", EffectiveDay: model.MustDay("2024-06-05"), Ratio: d(2)}},
		Days:         []string{"2024-06-03", "2024-06-04", "2024-06-05"},
		Prices: closes(map[string]map[string]float64{
			"2024-06-03": {"AAPL": 100},
			"2024-06-04": {"AAPL": 104},
			"2024-06-05": {"AAPL": 52},
		}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	day3 := record(t, res, "2024-06-05")
	if len(day3.Marks) != 1 {
		t.Fatalf("expected one mark, got %d", len(day3.Marks))
	}
	m := day3.Marks[0]
	if !m.Quantity.Equal(d(10)) || !m.Unrealized.Equal(d(20)) {
		t.Errorf("day3 mark: qty %s unrealized %s", m.Quantity, m.Unrealized)
	}
	// 10 @ 50 against 52 is the same 20 as 5 @ 100 against 104.
	if !day3.UnrealizedDelta.IsZero() || day3.Status != model.StatusOK {
		t.Errorf("day3: status %s delta %s", day3.Status, day3.UnrealizedDelta)
	}
}

func TestRun_MissingPriceCarriesForward(t *testing.T) {
	res, err := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{
			tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10)),
			tx("2", "ZZZZ", model.SideBuy, 1, 5, at("2024-01-03", 10)),
		},
		Days: []string{"2024-01-02", "2024-01-03", "2024-01-04"},
		Prices: closes(map[string]map[string]float64{
			"2024-01-02": {"AAPL": 101},
			"2024-01-03": {"AAPL": 102},
			"2024-01-04": {"AAPL": 103},
		}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	day1 := record(t, res, "2024-01-02")
	if day1.Status != model.StatusOK || !day1.EodUnrealized.Equal(d(10)) {
		t.Fatalf("day1: status %s eod %s", day1.Status, day1.EodUnrealized)
	}

	// One unpriced symbol is enough to withhold the whole day's valuation.
	for _, day := range []string{"2024-01-03", "2024-01-04"} {
		rec := record(t, res, day)
		if rec.Status != model.StatusMissingData {
			t.Errorf("%s: expected missing_data with one of two symbols priced, got %s", day, rec.Status)
		}
		if len(rec.MissingSymbols) != 1 || rec.MissingSymbols[0] != "ZZZZ" {
			t.Errorf("%s: expected ZZZZ missing, got %v", day, rec.MissingSymbols)
		}
		if !rec.EodUnrealized.Equal(d(10)) || !rec.UnrealizedDelta.IsZero() {
			t.Errorf("%s: expected eod 10 carried from day1, got %s delta %s", day, rec.EodUnrealized, rec.UnrealizedDelta)
		}
		if len(rec.Marks) != 2 {
			t.Errorf("%s: expected marks for both positions, got %d", day, len(rec.Marks))
		}
	}
}

func TestRun_OneUnpricedSymbolOnFirstDay(t *testing.T) {
	res, err := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{
			tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10)),
			tx("2", "ZZZZ", model.SideBuy, 1, 5, at("2024-01-02", 11)),
		},
		Days:   []string{"2024-01-02"},
		Prices: closes(map[string]map[string]float64{"2024-01-02": {"AAPL": 101}}),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := res.Days[0]
	if rec.Status != model.StatusMissingData || !rec.EodUnrealized.IsZero() || !rec.PrevUnrealized.IsZero() {
		t.Errorf("expected missing_data with eod carried at 0, got %s eod %s prev %s", rec.Status, rec.EodUnrealized, rec.PrevUnrealized)
	}
}

func TestRun_MissingDataStatus(t *testing.T) {
	res, _ := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "ZZZZ", model.SideBuy, 10, 100, at("2024-01-02", 10))},
		Days:         []string{"2024-01-02", "2024-01-03"},
		Prices:       model.NewPriceBook(),
	})
	for _, rec := range res.Days {
		if rec.Status != model.StatusMissingData {
			t.Errorf("%s: expected missing_data, got %s", rec.Day, rec.Status)
		}
		if len(rec.MissingSymbols) != 1 || rec.MissingSymbols[0] != "ZZZZ" {
			t.Errorf("%s: expected ZZZZ missing, got %v", rec.Day, rec.MissingSymbols)
		}
		if !rec.EodUnrealized.Equal(rec.PrevUnrealized) || !rec.UnrealizedDelta.IsZero() {
			t.Errorf("%s: eod %s should carry prev %s", rec.Day, rec.EodUnrealized, rec.PrevUnrealized)
		}
	}
}

func TestRun_StatusPriority(t *testing.T) {
	boundary := model.MustDay("2024-01-03")
	prices := closes(map[string]map[string]float64{
		"2024-01-02": {"AAPL": 101},
		"2024-01-03": {"AAPL": 102},
		"2024-01-04": {"AAPL": 103},
		"2024-01-08": {"AAPL": 104},
		"2024-01-09": {"AAPL": 105},
	})
	prices.FetchBoundary = &boundary

	e := newEngine()
	e.Now = at("2024-01-09", 11) // mid-session
	res, err := e.Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10))},
		Days:         []string{"2024-01-10", "2024-01-09", "2024-01-06", "2024-01-04", "2024-01-03", "2024-01-03"},
		Prices:       prices,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Days) != 5 {
		t.Fatalf("expected 5 de-duplicated days, got %d", len(res.Days))
	}
	want := map[string]model.DayStatus{
		"2024-01-03": model.StatusOK,
		"2024-01-04": model.StatusFetchIncomplete,
		"2024-01-06": model.StatusMarketClosed,
		"2024-01-09": model.StatusIntraday,
		"2024-01-10": model.StatusNotOpen,
	}
	for i, rec := range res.Days {
		if i > 0 && !rec.Day.After(res.Days[i-1].Day) {
			t.Errorf("days not sorted at %d", i)
		}
		if rec.Status != want[string(rec.Day)] {
			t.Errorf("%s: expected %s, got %s", rec.Day, want[string(rec.Day)], rec.Status)
		}
		if rec.Status != model.StatusOK && len(rec.Reasons) == 0 {
			t.Errorf("%s: expected a reason", rec.Day)
		}
	}

	e.Now = at("2024-01-09", 8)
	res, _ = e.Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10))},
		Days:         []string{"2024-01-09"},
		Prices:       prices,
	})
	if res.Days[0].Status != model.StatusNotOpen {
		t.Errorf("before the open: expected not_open, got %s", res.Days[0].Status)
	}
}

func TestRun_PriceFallbacks(t *testing.T) {
	book := closes(map[string]map[string]float64{
		"2024-01-02": {"AAPL": 110, "MSFT": 310, "TSLA": 210},
	})
	book.Set(model.MustDay("2024-01-03"), "AAPL", model.PriceEntry{Status: model.PriceNoLiquidity})
	book.Set(model.MustDay("2024-01-03"), "MSFT", model.PriceEntry{Status: model.PricePlanLimited})
	book.Set(model.MustDay("2024-01-03"), "TSLA", model.PriceEntry{Status: model.PriceError})

	res, err := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{
			tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10)),
			tx("2", "MSFT", model.SideBuy, 10, 300, at("2024-01-02", 10)),
			tx("3", "TSLA", model.SideBuy, 10, 200, at("2024-01-02", 10)),
		},
		Days:   []string{"2024-01-03"},
		Prices: book,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := res.Days[0]
	if rec.Status != model.StatusPartial {
		t.Errorf("expected partial, got %s", rec.Status)
	}

	sources := map[string]model.PriceSource{}
	for _, m := range rec.Marks {
		sources[m.Symbol] = m.Source
	}
	if sources["AAPL"] != model.SourceLastClose || sources["MSFT"] != model.SourceAverageCost || sources["TSLA"] != model.SourceEstimate {
		t.Errorf("unexpected sources: %v", sources)
	}
	// AAPL 100 @ last close 110, MSFT at cost 0, TSLA estimated at 210
	if !rec.EodUnrealized.Equal(d(200)) {
		t.Errorf("expected eod 200, got %s", rec.EodUnrealized)
	}
	if len(rec.MissingSymbols) != 0 {
		t.Errorf("nothing should be missing, got %v", rec.MissingSymbols)
	}
}

func TestRun_NoLiquidityAloneIsNotDegraded(t *testing.T) {
	book := closes(map[string]map[string]float64{"2024-01-02": {"AAPL": 110}})
	book.Set(model.MustDay("2024-01-03"), "AAPL", model.PriceEntry{Status: model.PriceNoLiquidity})

	res, _ := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10))},
		Days:         []string{"2024-01-03"},
		Prices:       book,
	})
	rec := res.Days[0]
	if rec.Status != model.StatusOK {
		t.Errorf("expected ok, got %s", rec.Status)
	}
	if len(rec.Reasons) != 1 || rec.Reasons[0] != "no_liquidity:AAPL" {
		t.Errorf("expected no_liquidity reason, got %v", rec.Reasons)
	}
}

func TestRun_EstimateRestatedAcrossSplit(t *testing.T) {
	res, _ := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-06-03", 10))},
		Splits:       []model.Split{{Symbol: "AAPL", EffectiveDay: model.MustDay("2024-06-05"), Ratio: d(2)}},
		Days:         []string{"2024-06-05"},
		Prices:       closes(map[string]map[string]float64{"2024-06-04": {"AAPL": 120}}),
	})
	m := res.Days[0].Marks[0]
	if m.Source != model.SourceEstimate || !m.Price.Equal(d(60)) {
		t.Errorf("expected estimate 60, got %s %s", m.Source, m.Price)
	}
	if !res.Days[0].EodUnrealized.Equal(d(200)) {
		t.Errorf("expected eod 200, got %s", res.Days[0].EodUnrealized)
	}
}

func TestRun_ExpiredOptionAtIntrinsic(t *testing.T) {
	opt := model.Transaction{
		ID: "o1", Symbol: "AAPL", AssetKind: model.AssetOption, Side: model.SideBuy,
		Quantity: d(1), Price: d(3), Multiplier: d(100), Timestamp: at("2024-01-16", 10),
		ContractKey: "AAPL-C-180-20240119",
	}
	res, _ := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{opt},
		Days:         []string{"2024-01-22"},
		Prices:       closes(map[string]map[string]float64{"2024-01-19": {"AAPL": 190}}),
	})
	m := res.Days[0].Marks[0]
	if m.Source != model.SourceIntrinsic || !m.Price.Equal(d(10)) || !m.Unrealized.Equal(d(700)) {
		t.Errorf("expected intrinsic 10 / 700, got %s %s %s", m.Source, m.Price, m.Unrealized)
	}
}

func TestRun_CalendarAdditivity(t *testing.T) {
	txs := []model.Transaction{
		tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-03-01", 10)),
		tx("2", "MSFT", model.SideBuy, 4, 400, at("2024-03-04", 10)),
		tx("3", "AAPL", model.SideSell, 4, 108, at("2024-03-05", 10)),
		tx("4", "AAPL", model.SideBuy, 6, 104, at("2024-03-06", 10)),
		tx("5", "AAPL", model.SideSell, 3, 110, at("2024-03-06", 14)),
		tx("6", "MSFT", model.SideSell, 6, 405, at("2024-03-07", 10)),
		tx("7", "MSFT", model.SideBuy, 2, 395, at("2024-03-08", 10)),
	}
	prices := closes(map[string]map[string]float64{
		"2024-03-01": {"AAPL": 101},
		"2024-03-04": {"AAPL": 103, "MSFT": 402},
		"2024-03-05": {"AAPL": 107, "MSFT": 398},
		"2024-03-06": {"AAPL": 109, "MSFT": 401},
		"2024-03-07": {"AAPL": 112, "MSFT": 404},
		"2024-03-08": {"AAPL": 111, "MSFT": 399},
	})
	res, err := newEngine().Run(calendar.Request{
		Transactions: txs,
		Days:         []string{"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08"},
		Prices:       prices,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Baseline != model.MustDay("2024-03-01") {
		t.Fatalf("expected Friday baseline, got %s", res.Baseline)
	}

	sum := decimal.Zero
	for _, rec := range res.Days {
		if rec.Status != model.StatusOK {
			t.Errorf("%s: expected ok, got %s %v", rec.Day, rec.Status, rec.Reasons)
		}
		sum = sum.Add(rec.TotalPnL)
	}
	last := res.Days[len(res.Days)-1]
	want := last.RealizedToDate.Sub(res.Summary.StartingRealized).
		Add(last.EodUnrealized.Sub(res.BaselineUnrealized))
	if !sum.Equal(want) {
		t.Errorf("calendar not additive: sum %s, want %s", sum, want)
	}
	if !sum.Equal(res.Summary.TotalPnL) {
		t.Errorf("summary total %s != sum %s", res.Summary.TotalPnL, sum)
	}
}

func TestRun_IntradayColumn(t *testing.T) {
	res, _ := newEngine().Run(calendar.Request{
		Transactions: []model.Transaction{
			tx("1", "AAPL", model.SideBuy, 10, 100, at("2024-01-02", 10)),
			tx("2", "AAPL", model.SideSell, 4, 105, at("2024-01-02", 14)),
			tx("3", "AAPL", model.SideBuy, 1, 200, at("2024-01-04", 10)),
		},
		Days:   []string{"2024-01-02", "2024-01-03", "2024-01-04"},
		Prices: closes(map[string]map[string]float64{"2024-01-02": {"AAPL": 102}, "2024-01-03": {"AAPL": 103}}),
	})
	// 4 × 5 realized + 6 × 2 unrealized
	if got := record(t, res, "2024-01-02").IntradayPnL; !got.Equal(d(32)) {
		t.Errorf("expected intraday 32, got %s", got)
	}
	if got := record(t, res, "2024-01-03").IntradayPnL; !got.IsZero() {
		t.Errorf("no trades on 01-03, got %s", got)
	}
	if len(res.Days) != 3 {
		t.Errorf("expected 3 days, got %d", len(res.Days))
	}
}

func TestRun_InvalidDay(t *testing.T) {
	_, err := newEngine().Run(calendar.Request{Days: []string{"2024-01-02", "2024-02-30"}})
	if !errors.Is(err, model.ErrInvalidDay) {
		t.Errorf("expected ErrInvalidDay, got %v", err)
	}
}

func TestRange(t *testing.T) {
	days, err := calendar.Range("2024-02-27", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 4 || days[2] != "2024-02-29" {
		t.Errorf("unexpected range %v", days)
	}
	if _, err := calendar.Range("2024-03-01", "2024-02-01"); !errors.Is(err, calendar.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestWeekdayCalendar(t *testing.T) {
	c := calendar.NewWeekdayCalendar(model.MustDay("2024-07-04"))
	cases := map[string]bool{
		"2024-07-03": true,
		"2024-07-04": false,
		"2024-07-06": false,
		"2024-07-07": false,
		"2024-07-08": true,
	}
	for day, want := range cases {
		if got := c.IsTradingDay(model.MustDay(day)); got != want {
			t.Errorf("%s: expected %v, got %v", day, want, got)
		}
	}
}
