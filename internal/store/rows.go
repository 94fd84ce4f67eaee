package store

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// rowScanner is satisfied by both pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// txColumns holds the text-encoded numeric columns of a transaction row.
type txColumns struct {
	quantity   string
	price      string
	multiplier string
}

func (c txColumns) decode(tx *model.Transaction) error {
	var err error
	if tx.Quantity, err = decimal.NewFromString(c.quantity); err != nil {
		return fmt.Errorf("transaction %s quantity: %w", tx.ID, err)
	}
	if tx.Price, err = decimal.NewFromString(c.price); err != nil {
		return fmt.Errorf("transaction %s price: %w", tx.ID, err)
	}
	if tx.Multiplier, err = decimal.NewFromString(c.multiplier); err != nil {
		return fmt.Errorf("transaction %s multiplier: %w", tx.ID, err)
	}
	return nil
}

func scanSplits(rows rowScanner) ([]model.Split, error) {
	var out []model.Split
	for rows.Next() {
		var sp model.Split
		var day, ratio string
		if err := rows.Scan(&sp.Symbol, &day, &ratio); err != nil {
			return nil, err
		}
		var err error
		if sp.EffectiveDay, err = model.ParseDay(day); err != nil {
			return nil, err
		}
		if sp.Ratio, err = decimal.NewFromString(ratio); err != nil {
			return nil, fmt.Errorf("split %s %s ratio: %w", sp.Symbol, day, err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func scanPrices(rows rowScanner, book *model.PriceBook) error {
	for rows.Next() {
		var day, key, status, closeS string
		if err := rows.Scan(&day, &key, &status, &closeS); err != nil {
			return err
		}
		d, err := model.ParseDay(day)
		if err != nil {
			return err
		}
		e := model.PriceEntry{Status: model.PriceStatus(status)}
		if closeS != "" {
			if e.Close, err = decimal.NewFromString(closeS); err != nil {
				return fmt.Errorf("price %s %s: %w", day, key, err)
			}
		}
		book.Set(d, key, e)
	}
	return rows.Err()
}

func revisionScopes(accountID string) (tx, splits, prices string) {
	return "tx:" + accountID, "splits", "prices"
}
