package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/pnl-engine/internal/ingest"
	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/split"
)

const maxBodyBytes = 10 << 20

// IngestResponse is the JSON body returned from transaction ingest.
type IngestResponse struct {
	AccountID string          `json:"account_id"`
	Accepted  int             `json:"accepted"`
	Splits    int             `json:"splits"`
	IDs       []string        `json:"ids"`
	Warnings  []model.Warning `json:"warnings"`
}

// PricesRequest is the JSON body for POST /prices. Entries are keyed by
// symbol or option contract key.
type PricesRequest struct {
	Day           string                      `json:"day"`
	Entries       map[string]model.PriceEntry `json:"entries"`
	FetchBoundary string                      `json:"fetch_boundary,omitempty"`
}

// IngestTransactions handles POST /api/v1/accounts/{accountID}/transactions.
// The body is a JSON array of raw broker records.
func (s *Service) IngestTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	records, err := ingest.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	batch := ingest.Normalize(records, ingest.Options{AccountID: accountID})
	metrics.ObserveWarnings(batch.Warnings)

	ctx := r.Context()
	if err := s.store.InsertTransactions(ctx, accountID, batch.Transactions); err != nil {
		slog.Error("insert transactions failed", "account", accountID, "err", err)
		writeError(w, "failed to record transactions", http.StatusInternalServerError)
		return
	}
	for _, sp := range batch.Splits {
		if err := s.store.InsertSplit(ctx, sp); err != nil {
			slog.Error("insert split failed", "symbol", sp.Symbol, "err", err)
			writeError(w, "failed to record split", http.StatusInternalServerError)
			return
		}
	}
	metrics.IngestedTransactions.Add(float64(len(batch.Transactions)))

	resp := IngestResponse{
		AccountID: accountID,
		Accepted:  len(batch.Transactions),
		Splits:    len(batch.Splits),
		IDs:       make([]string, 0, len(batch.Transactions)),
		Warnings:  batch.Warnings,
	}
	for _, tx := range batch.Transactions {
		resp.IDs = append(resp.IDs, tx.ID)
	}
	if resp.Warnings == nil {
		resp.Warnings = []model.Warning{}
	}

	slog.Info("transactions ingested",
		"account", accountID,
		"records", len(records),
		"accepted", resp.Accepted,
		"splits", resp.Splits,
		"warnings", len(resp.Warnings),
	)

	s.broadcast(WSMessage{
		Type:      "transactions_ingested",
		AccountID: accountID,
		Count:     resp.Accepted,
	})

	writeJSON(w, http.StatusCreated, resp)
}

// PostSplits handles POST /api/v1/splits with a JSON array of splits.
// The whole batch is rejected if any split is invalid.
func (s *Service) PostSplits(w http.ResponseWriter, r *http.Request) {
	var splits []model.Split
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&splits); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for i := range splits {
		splits[i].Symbol = model.NormalizeSymbol(splits[i].Symbol)
		if err := split.Validate(splits[i]); err != nil {
			writeError(w, fmt.Sprintf("split %d: %v", i, err), http.StatusBadRequest)
			return
		}
	}

	for _, sp := range splits {
		if err := s.store.InsertSplit(r.Context(), sp); err != nil {
			slog.Error("insert split failed", "symbol", sp.Symbol, "err", err)
			writeError(w, "failed to record split", http.StatusInternalServerError)
			return
		}
		slog.Info("split recorded", "symbol", sp.Symbol, "effective", sp.EffectiveDay, "ratio", sp.Ratio.String())
	}

	s.broadcast(WSMessage{Type: "splits_updated", Count: len(splits)})
	writeJSON(w, http.StatusCreated, map[string]int{"recorded": len(splits)})
}

// ListSplits handles GET /api/v1/splits.
func (s *Service) ListSplits(w http.ResponseWriter, r *http.Request) {
	splits, err := s.store.ListSplits(r.Context())
	if err != nil {
		writeError(w, "failed to list splits", http.StatusInternalServerError)
		return
	}
	if splits == nil {
		splits = []model.Split{}
	}
	writeJSON(w, http.StatusOK, splits)
}

var knownPriceStatus = map[model.PriceStatus]bool{
	model.PriceOK:          true,
	model.PriceNoLiquidity: true,
	model.PricePlanLimited: true,
	model.PriceError:       true,
	model.PriceMissing:     true,
	model.PricePending:     true,
	model.PriceStale:       true,
}

// PostPrices handles POST /api/v1/prices: one day of close prices and an
// optional new fetch boundary.
func (s *Service) PostPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	day, err := model.ParseDay(req.Day)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries := make(map[string]model.PriceEntry, len(req.Entries))
	for key, e := range req.Entries {
		if !knownPriceStatus[e.Status] {
			writeError(w, fmt.Sprintf("price %s: unknown status %q", key, e.Status), http.StatusBadRequest)
			return
		}
		if e.Status == model.PriceOK && !e.Close.IsPositive() {
			writeError(w, fmt.Sprintf("price %s: ok close must be positive", key), http.StatusBadRequest)
			return
		}
		entries[normalizePriceKey(key)] = e
	}

	var boundary model.Day
	if req.FetchBoundary != "" {
		if boundary, err = model.ParseDay(req.FetchBoundary); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	if err := s.store.UpsertPrices(ctx, day, entries); err != nil {
		slog.Error("upsert prices failed", "day", day, "err", err)
		writeError(w, "failed to record prices", http.StatusInternalServerError)
		return
	}
	if boundary != "" {
		if err := s.store.SetFetchBoundary(ctx, boundary); err != nil {
			slog.Error("set fetch boundary failed", "day", boundary, "err", err)
			writeError(w, "failed to record fetch boundary", http.StatusInternalServerError)
			return
		}
	}

	slog.Info("prices recorded", "day", day, "entries", len(entries), "fetch_boundary", boundary)
	s.broadcast(WSMessage{Type: "prices_updated", Day: string(day), Count: len(entries)})
	writeJSON(w, http.StatusCreated, map[string]any{"day": day, "recorded": len(entries)})
}

// normalizePriceKey upper-cases tickers and contract keys alike.
func normalizePriceKey(key string) string {
	return model.NormalizeSymbol(key)
}
