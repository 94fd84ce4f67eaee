// Package api provides the HTTP handlers that ingest transactions, splits,
// and close prices, and serve holdings, realized, calendar, and intraday
// views computed by the engines on every request.
//
// Engine runs are pure functions of stored inputs, so calendar and realized
// responses are cached under a fingerprint of the store revision.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/pnl-engine/internal/calendar"
	"github.com/atmx/pnl-engine/internal/contract"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/realized"
	"github.com/atmx/pnl-engine/internal/split"
	"github.com/atmx/pnl-engine/internal/store"
)

// Service wires the store, result cache, and engines to HTTP.
type Service struct {
	store  store.Store
	cache  store.ResultCache // optional
	engine *calendar.Engine
	wsHub  *WSHub // optional WebSocket hub for ingest notifications
}

// NewService creates a new API service.
// Pass nil for cache or hub to disable result caching or broadcasting.
func NewService(st store.Store, cache store.ResultCache, engine *calendar.Engine, hub *WSHub) *Service {
	return &Service{
		store:  st,
		cache:  cache,
		engine: engine,
		wsHub:  hub,
	}
}

// Routes registers every endpoint on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/accounts/{accountID}/transactions", s.IngestTransactions)
	r.Get("/accounts/{accountID}/transactions", s.ListTransactions)
	r.Get("/accounts/{accountID}/holdings", s.GetHoldings)
	r.Get("/accounts/{accountID}/realized", s.GetRealized)
	r.Post("/accounts/{accountID}/realized/resume", s.ResumeRealized)
	r.Get("/accounts/{accountID}/calendar", s.GetCalendar)
	r.Get("/accounts/{accountID}/intraday", s.GetIntraday)
	r.Post("/splits", s.PostSplits)
	r.Get("/splits", s.ListSplits)
	r.Post("/prices", s.PostPrices)
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

func (s *Service) now() time.Time {
	if !s.engine.Now.IsZero() {
		return s.engine.Now
	}
	return time.Now()
}

// today is the current exchange day.
func (s *Service) today() model.Day {
	return model.DayOf(s.now())
}

// inputs is everything an engine run reads from the store.
type inputs struct {
	txs    []model.Transaction
	splits []model.Split
	rev    store.Revision
}

func (s *Service) load(ctx context.Context, accountID string) (inputs, error) {
	var in inputs
	var err error
	// Revision first: a write landing mid-load then yields a stale key, never
	// a fresh key over stale data.
	if in.rev, err = s.store.Revision(ctx, accountID); err != nil {
		return in, err
	}
	if in.txs, err = s.store.ListTransactions(ctx, accountID); err != nil {
		return in, err
	}
	if in.splits, err = s.store.ListSplits(ctx); err != nil {
		return in, err
	}
	return in, nil
}

// serveCached writes the cached body for key when present, otherwise runs
// compute and caches its JSON. A nil cache or empty key always computes.
func (s *Service) serveCached(w http.ResponseWriter, r *http.Request, surface, key string, compute func() (any, error)) {
	ctx := r.Context()
	if s.cache != nil && key != "" {
		data, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("result cache read failed", "surface", surface, "err", err)
		}
		if ok {
			metrics.CacheLookups.WithLabelValues(surface, "hit").Inc()
			writeRaw(w, http.StatusOK, data)
			return
		}
		metrics.CacheLookups.WithLabelValues(surface, "miss").Inc()
	}

	start := time.Now()
	result, err := compute()
	metrics.ObserveRun(surface, start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		writeError(w, "failed to encode result", http.StatusInternalServerError)
		return
	}
	if s.cache != nil && key != "" {
		if err := s.cache.Set(ctx, key, data); err != nil {
			slog.Warn("result cache write failed", "surface", surface, "err", err)
		}
	}
	writeRaw(w, http.StatusOK, data)
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}

// writeEngineError maps engine and store errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, realized.ErrStaleCheckpoint):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalidDay),
		errors.Is(err, calendar.ErrInvalidRange),
		errors.Is(err, realized.ErrInvalidCheckpoint),
		errors.Is(err, ledger.ErrInvalidTransaction),
		errors.Is(err, split.ErrInvalidSplit),
		errors.Is(err, contract.ErrInvalidContractKey):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("engine run failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
