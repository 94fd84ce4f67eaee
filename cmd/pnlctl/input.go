package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/atmx/pnl-engine/internal/ingest"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
)

// inputFile is the on-disk layout read by every command.
type inputFile struct {
	Transactions  []ingest.Record `json:"transactions"`
	Splits        []model.Split   `json:"splits"`
	Prices        model.PriceBook `json:"prices"`
	FetchBoundary string          `json:"fetch_boundary"`
}

// input is the normalized content of an input file.
type input struct {
	Batch  ingest.Batch
	Prices model.PriceBook
}

func readInput(path, accountID string) (*input, error) {
	if path == "" {
		return nil, fmt.Errorf("--input is required")
	}
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw inputFile
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	batch := ingest.Normalize(raw.Transactions, ingest.Options{AccountID: accountID})
	for _, sp := range raw.Splits {
		sp.Symbol = model.NormalizeSymbol(sp.Symbol)
		if err := split.Validate(sp); err != nil {
			return nil, err
		}
		batch.Splits = append(batch.Splits, sp)
	}
	for _, w := range batch.Warnings {
		slog.Warn("normalization warning", "index", w.Index, "tx", w.TxID, "code", w.Code, "msg", w.Message)
	}

	prices := raw.Prices
	if prices.Entries == nil {
		prices = model.NewPriceBook()
	}
	if raw.FetchBoundary != "" {
		d, err := model.ParseDay(raw.FetchBoundary)
		if err != nil {
			return nil, fmt.Errorf("fetch_boundary: %w", err)
		}
		prices.FetchBoundary = &d
	}
	return &input{Batch: batch, Prices: prices}, nil
}
