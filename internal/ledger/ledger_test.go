package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func at(day string, hour int) time.Time {
	return model.MustDay(day).Start().Add(time.Duration(hour) * time.Hour)
}

func stock(id string, side model.Side, qty, price float64, ts time.Time) model.Transaction {
	return model.Transaction{
		ID: id, Symbol: "AAPL", AssetKind: model.AssetStock, Side: side,
		Quantity: d(qty), Price: d(price), Multiplier: d(1), Timestamp: ts,
	}
}

func TestApply_FIFOOrder(t *testing.T) {
	b := ledger.NewBook()
	txs := []model.Transaction{
		stock("b1", model.SideBuy, 10, 100, at("2024-01-02", 10)),
		stock("b2", model.SideBuy, 10, 110, at("2024-01-03", 10)),
		stock("s1", model.SideSell, 15, 120, at("2024-01-04", 10)),
	}
	var events []model.RealizedEvent
	for _, tx := range txs {
		ev, err := b.Apply(tx)
		if err != nil {
			t.Fatalf("apply %s: %v", tx.ID, err)
		}
		events = append(events, ev...)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].OpenPrice.Equal(d(100)) || !events[0].Quantity.Equal(d(10)) || !events[0].PnL.Equal(d(200)) {
		t.Errorf("first event should close the oldest lot: %+v", events[0])
	}
	if !events[1].OpenPrice.Equal(d(110)) || !events[1].Quantity.Equal(d(5)) || !events[1].PnL.Equal(d(50)) {
		t.Errorf("second event should partially close the next lot: %+v", events[1])
	}
	if events[0].Direction != model.CloseLong || events[0].TxID != "s1" {
		t.Errorf("unexpected direction/tx: %s %s", events[0].Direction, events[0].TxID)
	}

	p, _ := b.Get("AAPL|stock")
	if len(p.Long) != 1 || !p.Long[0].Quantity.Equal(d(5)) || !p.Long[0].Price.Equal(d(110)) {
		t.Errorf("expected 5 @ 110 remaining, got %+v", p.Long)
	}
	if !p.Realized.Equal(d(250)) {
		t.Errorf("expected realized 250, got %s", p.Realized)
	}
	if !p.CostBasis().Equal(d(550)) {
		t.Errorf("expected cost basis 550, got %s", p.CostBasis())
	}
}

func TestApply_SellRemainderOpensShort(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 5, 100, at("2024-01-02", 10)))
	events, err := b.Apply(stock("s1", model.SideSell, 8, 90, at("2024-01-03", 10)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || !events[0].PnL.Equal(d(-50)) {
		t.Fatalf("expected one -50 event, got %+v", events)
	}
	p, _ := b.Get("AAPL|stock")
	if len(p.Long) != 0 || len(p.Short) != 1 {
		t.Fatalf("expected only a short lot, got long=%d short=%d", len(p.Long), len(p.Short))
	}
	if !p.Short[0].Quantity.Equal(d(-3)) || !p.Short[0].Price.Equal(d(90)) {
		t.Errorf("expected -3 @ 90, got %s @ %s", p.Short[0].Quantity, p.Short[0].Price)
	}
	if !p.NetQuantity().Equal(d(-3)) {
		t.Errorf("expected net -3, got %s", p.NetQuantity())
	}
}

func TestApply_BuyToCover(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("s1", model.SideSell, 10, 50, at("2024-01-02", 10)))
	b.Apply(stock("s2", model.SideSell, 10, 60, at("2024-01-02", 11)))
	events, _ := b.Apply(stock("b1", model.SideBuy, 12, 40, at("2024-01-03", 10)))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// (50-40)*10 and (60-40)*2
	if !events[0].PnL.Equal(d(100)) || !events[1].PnL.Equal(d(40)) {
		t.Errorf("unexpected pnl: %s, %s", events[0].PnL, events[1].PnL)
	}
	if events[0].Direction != model.CloseShort {
		t.Errorf("expected short close, got %s", events[0].Direction)
	}
	p, _ := b.Get("AAPL|stock")
	if !p.NetQuantity().Equal(d(-8)) {
		t.Errorf("expected net -8, got %s", p.NetQuantity())
	}
}

func TestApply_OptionMultiplier(t *testing.T) {
	b := ledger.NewBook()
	open := model.Transaction{
		ID: "o1", Symbol: "AAPL", AssetKind: model.AssetOption, Side: model.SideBuy,
		Quantity: d(2), Price: d(3), Multiplier: d(100), Timestamp: at("2024-01-02", 10),
		ContractKey: "AAPL-C-200-20240119",
	}
	closeTx := open
	closeTx.ID, closeTx.Side, closeTx.Price, closeTx.Timestamp = "o2", model.SideSell, d(4.5), at("2024-01-05", 10)

	b.Apply(open)
	events, err := b.Apply(closeTx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || !events[0].PnL.Equal(d(300)) {
		t.Fatalf("expected 300 realized, got %+v", events)
	}
	if _, ok := b.Get("AAPL|stock"); ok {
		t.Error("option trade must not touch the stock position")
	}
}

func TestApply_NonTradeIsNoop(t *testing.T) {
	b := ledger.NewBook()
	note := stock("n1", model.SideNote, 10, 100, at("2024-01-02", 10))
	splitRow := stock("x1", model.SideBuy, 10, 100, at("2024-01-02", 10))
	splitRow.OpKind = model.OpSplit

	for _, tx := range []model.Transaction{note, splitRow} {
		events, err := b.Apply(tx)
		if err != nil || events != nil {
			t.Errorf("%s: expected no-op, got %v %v", tx.ID, events, err)
		}
	}
	if len(b) != 0 {
		t.Errorf("expected empty book, got %d positions", len(b))
	}
}

func TestApply_Invalid(t *testing.T) {
	noTime := stock("bad1", model.SideBuy, 1, 100, time.Time{})
	noMult := stock("bad2", model.SideBuy, 1, 100, at("2024-01-02", 10))
	noMult.Multiplier = decimal.Zero

	for _, tx := range []model.Transaction{noTime, noMult} {
		if _, err := ledger.NewBook().Apply(tx); !errors.Is(err, ledger.ErrInvalidTransaction) {
			t.Errorf("%s: expected ErrInvalidTransaction, got %v", tx.ID, err)
		}
	}

	p := ledger.NewPosition(stock("b1", model.SideBuy, 1, 100, at("2024-01-02", 10)))
	other := stock("b2", model.SideBuy, 1, 100, at("2024-01-02", 10))
	other.Symbol = "MSFT"
	if _, err := p.Apply(other); !errors.Is(err, ledger.ErrInvalidTransaction) {
		t.Errorf("mismatched key: expected ErrInvalidTransaction, got %v", err)
	}
}

func TestPosition_AverageCostAndUnrealized(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 10, 100, at("2024-01-02", 10)))
	b.Apply(stock("b2", model.SideBuy, 30, 120, at("2024-01-03", 10)))
	p, _ := b.Get("AAPL|stock")

	if !p.AverageCost().Equal(d(115)) {
		t.Errorf("expected avg 115, got %s", p.AverageCost())
	}
	if u := p.Unrealized(d(130)); !u.Equal(d(600)) {
		t.Errorf("expected unrealized 600, got %s", u)
	}
	first, ok := p.FirstLot()
	if !ok || !first.OpenedAt.Equal(at("2024-01-02", 10)) {
		t.Errorf("unexpected first lot: %+v", first)
	}
}

func TestBook_CloneIsIndependent(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 10, 100, at("2024-01-02", 10)))
	c := b.Clone()
	b.Apply(stock("s1", model.SideSell, 10, 110, at("2024-01-03", 10)))

	p, _ := c.Get("AAPL|stock")
	if !p.NetQuantity().Equal(d(10)) {
		t.Errorf("clone was mutated: net %s", p.NetQuantity())
	}
}

func TestBook_DropFlatAndKeys(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 10, 100, at("2024-01-02", 10)))
	b.Apply(stock("s1", model.SideSell, 10, 110, at("2024-01-03", 10)))
	msft := stock("b2", model.SideBuy, 1, 300, at("2024-01-02", 10))
	msft.Symbol = "MSFT"
	b.Apply(msft)

	if n := b.DropFlat(); n != 1 {
		t.Errorf("expected 1 dropped, got %d", n)
	}
	keys := b.Keys()
	if len(keys) != 1 || keys[0] != "MSFT|stock" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestBook_ApplySplitSkipsOptions(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 10, 100, at("2024-01-02", 10)))
	b.Apply(model.Transaction{
		ID: "o1", Symbol: "AAPL", AssetKind: model.AssetOption, Side: model.SideBuy,
		Quantity: d(1), Price: d(5), Multiplier: d(100), Timestamp: at("2024-01-02", 10),
		ContractKey: "AAPL-P-90-20240119",
	})
	b.ApplySplit(model.Split{Symbol: "aapl", EffectiveDay: model.MustDay("2024-01-05"), Ratio: d(2)})

	p, _ := b.Get("AAPL|stock")
	if !p.NetQuantity().Equal(d(20)) || !p.CostBasis().Equal(d(1000)) {
		t.Errorf("stock split: net %s basis %s", p.NetQuantity(), p.CostBasis())
	}
	o, _ := b.Get("AAPL-P-90-20240119")
	if !o.NetQuantity().Equal(d(1)) {
		t.Errorf("option was rescaled: %s", o.NetQuantity())
	}
}

func TestSortByTime_Stable(t *testing.T) {
	same := at("2024-01-02", 10)
	txs := []model.Transaction{
		stock("c", model.SideBuy, 1, 1, at("2024-01-03", 10)),
		stock("a", model.SideBuy, 1, 1, same),
		stock("b", model.SideBuy, 1, 1, same),
	}
	sorted := ledger.SortByTime(txs)
	if sorted[0].ID != "a" || sorted[1].ID != "b" || sorted[2].ID != "c" {
		t.Errorf("unexpected order: %s %s %s", sorted[0].ID, sorted[1].ID, sorted[2].ID)
	}
	if txs[0].ID != "c" {
		t.Error("SortByTime mutated its input")
	}
}

func TestNormalize_DefaultsAndDrops(t *testing.T) {
	ts := at("2024-01-02", 10)
	txs := []model.Transaction{
		{ID: "a", Symbol: " aapl", Quantity: d(-5), Price: d(10), Timestamp: ts},
		{ID: "b", Symbol: "AAPL", Side: model.SideNote, Timestamp: ts},
		{ID: "c", Symbol: "", Side: model.SideBuy, Quantity: d(1), Timestamp: ts},
		{ID: "e", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1), Price: d(10)},
		{ID: "f", Symbol: "SPY", AssetKind: model.AssetOption, Side: model.SideSell, Quantity: d(2), Price: d(1), Timestamp: ts},
	}
	out, warnings := ledger.Normalize(txs)

	if len(out) != 2 {
		t.Fatalf("expected 2 rows kept, got %d", len(out))
	}
	a := out[0]
	if a.Symbol != "AAPL" || a.Side != model.SideSell || a.AssetKind != model.AssetStock || !a.Multiplier.Equal(d(1)) {
		t.Errorf("row a not normalized: %+v", a)
	}
	f := out[1]
	if !f.Quantity.Equal(d(-2)) || !f.Multiplier.Equal(d(100)) {
		t.Errorf("row f: expected -2 x 100, got %s x %s", f.Quantity, f.Multiplier)
	}

	codes := map[string]int{}
	for _, w := range warnings {
		codes[w.Code]++
	}
	for code, want := range map[string]int{
		model.WarnKindDefaulted:       1,
		model.WarnSideInferred:        1,
		model.WarnMultiplierDefaulted: 2,
		model.WarnNonTradeSkipped:     1,
		model.WarnSymbolMissing:       1,
		model.WarnTimestampMissing:    1,
	} {
		if codes[code] != want {
			t.Errorf("warning %s: expected %d, got %d", code, want, codes[code])
		}
	}
	if txs[0].Symbol != " aapl" {
		t.Error("Normalize mutated its input")
	}
}

func TestNormalize_DropsZeroQuantity(t *testing.T) {
	ts := at("2024-01-02", 10)
	out, warnings := ledger.Normalize([]model.Transaction{
		{ID: "a", Symbol: "AAPL", Side: model.SideBuy, Quantity: decimal.Zero, Price: d(10), Timestamp: ts},
		{ID: "b", Symbol: "AAPL", Quantity: decimal.Zero, Price: d(10), Timestamp: ts},
		{ID: "c", Symbol: "AAPL", Side: model.SideBuy, Quantity: d(1), Price: d(10), Timestamp: ts},
	})
	if len(out) != 1 || out[0].ID != "c" {
		t.Fatalf("expected only row c kept, got %+v", out)
	}
	dropped := 0
	for _, w := range warnings {
		if w.Code == model.WarnQuantityUnparseable {
			dropped++
		}
		if w.Code == model.WarnSideInferred {
			t.Errorf("no side should be inferred for a zero quantity: %+v", w)
		}
	}
	if dropped != 2 {
		t.Errorf("expected 2 quantity_unparseable warnings, got %d", dropped)
	}
}

func TestBook_ZeroQuantityOpensNothing(t *testing.T) {
	b := ledger.NewBook()
	events, err := b.Apply(stock("b0", model.SideBuy, 0, 100, at("2024-01-02", 10)))
	if err != nil || len(events) != 0 {
		t.Fatalf("expected a silent no-op, got %v %v", events, err)
	}
	if len(b.Keys()) != 0 {
		t.Errorf("a zero-quantity trade created positions %v", b.Keys())
	}
	if n := b.DropFlat(); n != 0 {
		t.Errorf("expected nothing to drop, got %d", n)
	}
}

func TestApply_ThreeForOneSplitKeepsCostExact(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 5, 100, at("2024-01-02", 10)))
	b.ApplySplit(model.Split{Symbol: "AAPL", EffectiveDay: model.MustDay("2024-01-05"), Ratio: d(3)})

	p, _ := b.Get("AAPL|stock")
	if !p.NetQuantity().Equal(d(15)) || !p.CostBasis().Equal(d(500)) {
		t.Fatalf("after 3-for-1: net %s basis %s", p.NetQuantity(), p.CostBasis())
	}
	if u := p.Unrealized(d(40)); !u.Equal(d(100)) {
		t.Errorf("expected unrealized 100 at 40, got %s", u)
	}

	// Two uneven partial closes still sum to the unsplit result.
	ev1, _ := b.Apply(stock("s1", model.SideSell, 7, 40, at("2024-01-05", 10)))
	ev2, _ := b.Apply(stock("s2", model.SideSell, 8, 40, at("2024-01-05", 11)))
	total := ev1[0].PnL.Add(ev2[0].PnL)
	if !total.Equal(d(100)) {
		t.Errorf("expected realized 100, got %s", total)
	}
	if !p.IsFlat() || !p.Realized.Equal(d(100)) {
		t.Errorf("expected flat with realized 100, got net %s realized %s", p.NetQuantity(), p.Realized)
	}
}

func TestApply_ShortOpenKeepsTradeRemainder(t *testing.T) {
	b := ledger.NewBook()
	b.Apply(stock("b1", model.SideBuy, 1, 100, at("2024-01-02", 10)))
	// Sell 3 @ 10: one share closes the long, two open a short for 20.
	b.Apply(stock("s1", model.SideSell, 3, 10, at("2024-01-03", 10)))

	p, _ := b.Get("AAPL|stock")
	if !p.NetQuantity().Equal(d(-2)) || !p.CostBasis().Equal(d(-20)) {
		t.Errorf("expected -2 with basis -20, got %s / %s", p.NetQuantity(), p.CostBasis())
	}
	if !p.Realized.Equal(d(-90)) {
		t.Errorf("expected realized -90, got %s", p.Realized)
	}
}
