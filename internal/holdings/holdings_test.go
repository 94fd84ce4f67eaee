package holdings_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/pnl-engine/internal/holdings"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func at(day string) time.Time {
	return model.MustDay(day).Start().Add(10 * time.Hour)
}

func dayPtr(s string) *model.Day {
	day := model.MustDay(s)
	return &day
}

func tx(id, symbol string, side model.Side, qty, price float64, day string) model.Transaction {
	return model.Transaction{
		ID: id, Symbol: symbol, AssetKind: model.AssetStock, Side: side,
		Quantity: d(qty), Price: d(price), Multiplier: d(1), Timestamp: at(day),
	}
}

func TestBuild_ZeroNetElision(t *testing.T) {
	snap, err := holdings.Build([]model.Transaction{
		tx("1", "AAPL", model.SideBuy, 10, 100, "2024-01-02"),
		tx("2", "AAPL", model.SideSell, 10, 110, "2024-01-03"),
		tx("3", "MSFT", model.SideBuy, 5, 300, "2024-01-02"),
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Holdings) != 1 || snap.Holdings[0].Key != "MSFT|stock" {
		t.Fatalf("expected only MSFT, got %+v", snap.Holdings)
	}
	if snap.Audit.ZeroNetDropped != 1 {
		t.Errorf("expected 1 zero-net drop, got %d", snap.Audit.ZeroNetDropped)
	}
	if snap.Audit.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", snap.Audit.Processed)
	}
}

func TestBuild_CostBasisAndAverage(t *testing.T) {
	snap, _ := holdings.Build([]model.Transaction{
		tx("1", "AAPL", model.SideBuy, 10, 100, "2024-01-02"),
		tx("2", "AAPL", model.SideBuy, 10, 120, "2024-01-03"),
		tx("3", "AAPL", model.SideSell, 5, 130, "2024-01-04"),
	}, nil, nil)
	h, ok := snap.Find("AAPL|stock")
	if !ok {
		t.Fatal("AAPL holding missing")
	}
	// 5 @ 100 + 10 @ 120
	if !h.NetQuantity.Equal(d(15)) || !h.CostBasis.Equal(d(1700)) {
		t.Errorf("expected 15 / 1700, got %s / %s", h.NetQuantity, h.CostBasis)
	}
	if !h.AverageCost.Round(4).Equal(d(113.3333)) {
		t.Errorf("expected avg 113.3333, got %s", h.AverageCost)
	}
	if !h.RealizedPnL.Equal(d(150)) {
		t.Errorf("expected realized 150, got %s", h.RealizedPnL)
	}
	if !h.OpenedAt.Equal(at("2024-01-02")) {
		t.Errorf("unexpected opened at %s", h.OpenedAt)
	}
}

func TestBuild_AsOfExcludesLaterTrades(t *testing.T) {
	snap, err := holdings.Build([]model.Transaction{
		tx("1", "AAPL", model.SideBuy, 10, 100, "2024-01-02"),
		tx("2", "AAPL", model.SideSell, 10, 110, "2024-01-05"),
	}, nil, dayPtr("2024-01-04"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Holdings) != 1 || !snap.Holdings[0].NetQuantity.Equal(d(10)) {
		t.Fatalf("expected 10 AAPL as of 01-04, got %+v", snap.Holdings)
	}
	if snap.Audit.AfterAsOf != 1 {
		t.Errorf("expected 1 excluded, got %d", snap.Audit.AfterAsOf)
	}
}

func TestBuild_SplitInvariance(t *testing.T) {
	txs := []model.Transaction{tx("1", "AAPL", model.SideBuy, 10, 150, "2024-06-03")}
	splits := []model.Split{{Symbol: "AAPL", EffectiveDay: model.MustDay("2024-06-10"), Ratio: d(2)}}

	before, _ := holdings.Build(txs, splits, dayPtr("2024-06-07"))
	after, _ := holdings.Build(txs, splits, dayPtr("2024-06-10"))

	hb, ha := before.Holdings[0], after.Holdings[0]
	if !hb.NetQuantity.Equal(d(10)) || !ha.NetQuantity.Equal(d(20)) {
		t.Errorf("quantity: before %s after %s", hb.NetQuantity, ha.NetQuantity)
	}
	if !ha.AverageCost.Equal(d(75)) {
		t.Errorf("expected post-split avg 75, got %s", ha.AverageCost)
	}
	if !hb.CostBasis.Equal(ha.CostBasis) {
		t.Errorf("cost basis changed across split: %s vs %s", hb.CostBasis, ha.CostBasis)
	}
}

func TestBuild_OptionContractParsed(t *testing.T) {
	opt := model.Transaction{
		ID: "o1", Symbol: "AAPL", AssetKind: model.AssetOption, Side: model.SideSell,
		Quantity: d(2), Price: d(4), Timestamp: at("2024-01-02"), ContractKey: "AAPL-P-180-20240216",
	}
	snap, _ := holdings.Build([]model.Transaction{opt}, nil, nil)
	h := snap.Holdings[0]
	if h.Contract == nil || h.Contract.Underlying != "AAPL" {
		t.Fatalf("contract not parsed: %+v", h.Contract)
	}
	if !h.Multiplier.Equal(d(100)) || !h.CostBasis.Equal(d(-800)) || !h.AverageCost.Equal(d(4)) {
		t.Errorf("unexpected option holding: mult %s basis %s avg %s", h.Multiplier, h.CostBasis, h.AverageCost)
	}
}

func TestBuild_EmptyInputSentinel(t *testing.T) {
	snap, err := holdings.Build(nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Audit.Sentinel != holdings.SentinelEmptyInput {
		t.Errorf("expected sentinel %s, got %q", holdings.SentinelEmptyInput, snap.Audit.Sentinel)
	}
	if snap.Holdings == nil {
		t.Error("holdings should be an empty slice, not nil")
	}
}

func TestBuild_InvalidAsOf(t *testing.T) {
	bad := model.Day("2024-13-01")
	if _, err := holdings.Build(nil, nil, &bad); !errors.Is(err, model.ErrInvalidDay) {
		t.Errorf("expected ErrInvalidDay, got %v", err)
	}
}

func TestBuild_SortedByKey(t *testing.T) {
	snap, _ := holdings.Build([]model.Transaction{
		tx("1", "MSFT", model.SideBuy, 1, 1, "2024-01-02"),
		tx("2", "AAPL", model.SideBuy, 1, 1, "2024-01-02"),
		tx("3", "GOOG", model.SideBuy, 1, 1, "2024-01-02"),
	}, nil, nil)
	got := []string{snap.Holdings[0].Symbol, snap.Holdings[1].Symbol, snap.Holdings[2].Symbol}
	if got[0] != "AAPL" || got[1] != "GOOG" || got[2] != "MSFT" {
		t.Errorf("unexpected order %v", got)
	}
}

func TestBuild_ThreeForOneSplitCostBasis(t *testing.T) {
	txs := []model.Transaction{tx("1", "AAPL", model.SideBuy, 5, 100, "2024-06-03")}
	splits := []model.Split{{Symbol: "AAPL", EffectiveDay: model.MustDay("2024-06-10"), Ratio: d(3)}}

	snap, err := holdings.Build(txs, splits, dayPtr("2024-06-10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := snap.Holdings[0]
	if !h.NetQuantity.Equal(d(15)) || !h.CostBasis.Equal(d(500)) {
		t.Errorf("expected 15 shares costing 500, got %s / %s", h.NetQuantity, h.CostBasis)
	}

	closed, _ := holdings.Build(append(txs, tx("2", "AAPL", model.SideSell, 15, 40, "2024-06-11")), splits, nil)
	if len(closed.Holdings) != 0 {
		t.Fatalf("expected flat, got %+v", closed.Holdings)
	}
}

func TestBuild_ZeroQuantityRowIsNotAZeroNetPosition(t *testing.T) {
	snap, err := holdings.Build([]model.Transaction{tx("1", "AAPL", model.SideBuy, 0, 100, "2024-01-02")}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Audit.ZeroNetDropped != 0 || snap.Audit.Processed != 0 {
		t.Errorf("expected nothing processed or dropped, got %+v", snap.Audit)
	}
	if snap.Audit.Sentinel != holdings.SentinelEmptyInput {
		t.Errorf("expected empty input sentinel, got %q", snap.Audit.Sentinel)
	}
}
