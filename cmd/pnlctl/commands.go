package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/atmx/pnl-engine/internal/calendar"
	"github.com/atmx/pnl-engine/internal/holdings"
	"github.com/atmx/pnl-engine/internal/intraday"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/realized"
)

func newRootCmd(out io.Writer) *cobra.Command {
	var inputPath string

	root := &cobra.Command{
		Use:           "pnlctl",
		Short:         "Compute holdings, realized PnL, and daily PnL calendars from a transaction file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&inputPath, "input", "i", "", "input JSON file (- for stdin)")

	root.AddCommand(
		newNormalizeCmd(out, &inputPath),
		newHoldingsCmd(out, &inputPath),
		newRealizedCmd(out, &inputPath),
		newCalendarCmd(out, &inputPath),
		newIntradayCmd(out, &inputPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(out, "pnlctl %s\n", Version)
			},
		},
	)
	return root
}

func newNormalizeCmd(out io.Writer, inputPath *string) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Normalize raw records and print transactions, splits, and warnings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readInput(*inputPath, accountID)
			if err != nil {
				return err
			}
			return writeOutput(out, in.Batch)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id stamped on every transaction")
	return cmd
}

func newHoldingsCmd(out io.Writer, inputPath *string) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Print open positions as of a day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readInput(*inputPath, "")
			if err != nil {
				return err
			}
			var day *model.Day
			if asOf != "" {
				d, err := model.ParseDay(asOf)
				if err != nil {
					return err
				}
				day = &d
			}
			snap, err := holdings.Build(in.Batch.Transactions, in.Batch.Splits, day)
			if err != nil {
				return err
			}
			return writeOutput(out, snap)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "last day to include (default: every transaction)")
	return cmd
}

func newRealizedCmd(out io.Writer, inputPath *string) *cobra.Command {
	var through, checkpointIn, checkpointOut string
	cmd := &cobra.Command{
		Use:   "realized",
		Short: "Print the realized PnL ledger through a day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readInput(*inputPath, "")
			if err != nil {
				return err
			}
			day := model.DayOf(time.Now())
			if through != "" {
				if day, err = model.ParseDay(through); err != nil {
					return err
				}
			}

			var cp *realized.Checkpoint
			if checkpointIn != "" {
				cp = &realized.Checkpoint{}
				if err := readJSONFile(checkpointIn, cp); err != nil {
					return fmt.Errorf("read checkpoint: %w", err)
				}
			}

			res, err := realized.Run(in.Batch.Transactions, in.Batch.Splits, day, cp)
			if err != nil {
				return err
			}
			if checkpointOut != "" {
				if err := writeJSONFile(checkpointOut, res.Checkpoint()); err != nil {
					return fmt.Errorf("write checkpoint: %w", err)
				}
			}
			return writeOutput(out, struct {
				*realized.Result
				ByCloseDay map[model.Day]realized.DayRealized `json:"by_close_day"`
			}{res, res.ByCloseDay()})
		},
	}
	cmd.Flags().StringVar(&through, "through", "", "last day to include (default: today)")
	cmd.Flags().StringVar(&checkpointIn, "checkpoint-in", "", "resume from this checkpoint file")
	cmd.Flags().StringVar(&checkpointOut, "checkpoint-out", "", "write a checkpoint for this run")
	return cmd
}

func newCalendarCmd(out io.Writer, inputPath *string) *cobra.Command {
	var (
		from, to, now, openAt, closeAt string
		holidays                   []string
	)
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print one PnL record per day in a range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readInput(*inputPath, "")
			if err != nil {
				return err
			}
			days, err := calendar.Range(from, to)
			if err != nil {
				return err
			}

			var hs []model.Day
			for _, h := range holidays {
				d, err := model.ParseDay(h)
				if err != nil {
					return fmt.Errorf("holiday: %w", err)
				}
				hs = append(hs, d)
			}
			engine := calendar.NewEngine(calendar.NewWeekdayCalendar(hs...))
			if engine.Open, err = calendar.ParseClock(openAt); err != nil {
				return err
			}
			if engine.Close, err = calendar.ParseClock(closeAt); err != nil {
				return err
			}
			if now != "" {
				if engine.Now, err = time.Parse(time.RFC3339, now); err != nil {
					return fmt.Errorf("now: %w", err)
				}
			}

			res, err := engine.Run(calendar.Request{
				Transactions: in.Batch.Transactions,
				Splits:       in.Batch.Splits,
				Days:         days,
				Prices:       in.Prices,
			})
			if err != nil {
				return err
			}
			return writeOutput(out, res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&now, "now", "", "evaluate as of this RFC3339 instant (default: current time)")
	cmd.Flags().StringVar(&openAt, "open", "09:30", "session open in exchange time")
	cmd.Flags().StringVar(&closeAt, "close", "16:00", "session close in exchange time")
	cmd.Flags().StringSliceVar(&holidays, "holiday", nil, "exchange holiday (repeatable)")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newIntradayCmd(out io.Writer, inputPath *string) *cobra.Command {
	var (
		day    string
		prices map[string]string
	)
	cmd := &cobra.Command{
		Use:   "intraday",
		Short: "Print the three-bucket attribution for one day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := readInput(*inputPath, "")
			if err != nil {
				return err
			}
			d := model.DayOf(time.Now())
			if day != "" {
				if d, err = model.ParseDay(day); err != nil {
					return err
				}
			}

			live := make(map[string]decimal.Decimal)
			for key, e := range in.Prices.Entries[d] {
				if e.Status == model.PriceOK {
					live[key] = e.Close
				}
			}
			for key, raw := range prices {
				p, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("price %s: %w", key, err)
				}
				live[model.NormalizeSymbol(key)] = p
			}

			res, err := intraday.Run(in.Batch.Transactions, in.Batch.Splits, d, live)
			if err != nil {
				return err
			}
			return writeOutput(out, res)
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day to attribute (default: today)")
	cmd.Flags().StringToStringVar(&prices, "price", nil, "live price override, KEY=VALUE (repeatable)")
	return cmd
}

func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeOutput(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
