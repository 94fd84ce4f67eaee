// Command pnlctl runs the PnL engines offline over a JSON input file.
//
// The input file holds raw broker records, splits, and close prices:
//
//	{"transactions": [...], "splits": [...], "prices": {"entries": {...}}, "fetch_boundary": "2024-01-31"}
//
// Transactions go through the same normalization as the HTTP ingest
// endpoint, so broker exports can be used as-is.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Set by ldflags at build time
var Version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
