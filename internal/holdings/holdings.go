// Package holdings builds a point-in-time snapshot of open positions from a
// transaction log.
package holdings

import (
	"time"

	"github.com/atmx/pnl-engine/internal/contract"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/shopspring/decimal"
)

// SentinelEmptyInput is set on the audit when no trade was processed.
const SentinelEmptyInput = "EMPTY_INPUT"

// Holding is one open position.
type Holding struct {
	Key         string             `json:"key"`
	Symbol      string             `json:"symbol"`
	AssetKind   model.AssetKind    `json:"asset_kind"`
	ContractKey string             `json:"contract_key,omitempty"`
	Contract    *contract.Contract `json:"contract,omitempty"`
	NetQuantity decimal.Decimal    `json:"net_quantity"`
	Multiplier  decimal.Decimal    `json:"multiplier"`
	CostBasis   decimal.Decimal    `json:"cost_basis"`
	AverageCost decimal.Decimal    `json:"average_cost"`
	RealizedPnL decimal.Decimal    `json:"realized_pnl"`
	OpenedAt    time.Time          `json:"opened_at"`
	Lots        []model.Lot        `json:"lots"`
}

// Audit counts what happened to the input.
type Audit struct {
	Input          int             `json:"input"`
	Processed      int             `json:"processed"`
	AfterAsOf      int             `json:"after_as_of"`
	ZeroNetDropped int             `json:"zero_net_dropped"`
	Warnings       []model.Warning `json:"warnings,omitempty"`
	Sentinel       string          `json:"sentinel,omitempty"`
}

// Snapshot is the result of Build.
type Snapshot struct {
	AsOf     *model.Day `json:"as_of,omitempty"`
	Holdings []Holding  `json:"holdings"`
	Audit    Audit      `json:"audit"`
}

// Build replays txs up to and including asOf (all of them when asOf is nil)
// in split-adjusted units and returns the surviving open positions sorted
// by key.
func Build(txs []model.Transaction, splits []model.Split, asOf *model.Day) (*Snapshot, error) {
	if asOf != nil {
		if _, err := model.ParseDay(string(*asOf)); err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{AsOf: asOf, Holdings: []Holding{}}
	snap.Audit.Input = len(txs)

	norm, warnings := ledger.Normalize(txs)
	snap.Audit.Warnings = warnings

	adj := split.NewAdjuster(splits)
	book := ledger.NewBook()
	for _, tx := range ledger.SortByTime(norm) {
		if asOf != nil && tx.Day().After(*asOf) {
			snap.Audit.AfterAsOf++
			continue
		}
		if _, err := book.Apply(adj.Adjust(tx, asOf)); err != nil {
			snap.Audit.Warnings = append(snap.Audit.Warnings, model.Warning{
				Index: -1, TxID: tx.ID, Code: model.WarnRejected, Message: err.Error(),
			})
			continue
		}
		snap.Audit.Processed++
	}

	if snap.Audit.Processed == 0 {
		snap.Audit.Sentinel = SentinelEmptyInput
	}
	snap.Audit.ZeroNetDropped = book.DropFlat()

	for _, key := range book.Keys() {
		p, _ := book.Get(key)
		snap.Holdings = append(snap.Holdings, holdingOf(p))
	}
	return snap, nil
}

func holdingOf(p *ledger.Position) Holding {
	h := Holding{
		Key:         p.Key,
		Symbol:      p.Symbol,
		AssetKind:   p.AssetKind,
		ContractKey: p.ContractKey,
		NetQuantity: p.NetQuantity(),
		Multiplier:  p.Multiplier(),
		CostBasis:   p.CostBasis(),
		AverageCost: p.AverageCost(),
		RealizedPnL: p.Realized,
		Lots:        p.Lots(),
	}
	if first, ok := p.FirstLot(); ok {
		h.OpenedAt = first.OpenedAt
	}
	if p.ContractKey != "" {
		if c, err := contract.Parse(p.ContractKey); err == nil {
			h.Contract = c
		}
	}
	return h
}

// Find returns the holding for key.
func (s *Snapshot) Find(key string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Key == key {
			return h, true
		}
	}
	return Holding{}, false
}
