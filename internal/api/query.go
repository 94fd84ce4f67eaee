package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/calendar"
	"github.com/atmx/pnl-engine/internal/holdings"
	"github.com/atmx/pnl-engine/internal/intraday"
	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/realized"
	"github.com/atmx/pnl-engine/internal/store"
)

// RealizedResponse is the JSON body for the realized endpoints.
type RealizedResponse struct {
	*realized.Result
	ByCloseDay map[model.Day]realized.DayRealized `json:"by_close_day"`
	Checkpoint *realized.Checkpoint               `json:"checkpoint,omitempty"`
}

// ResumeRequest is the JSON body for POST .../realized/resume.
type ResumeRequest struct {
	Through    string               `json:"through"`
	Checkpoint *realized.Checkpoint `json:"checkpoint"`
}

// ListTransactions handles GET /api/v1/accounts/{accountID}/transactions.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.store.ListTransactions(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetHoldings handles GET /api/v1/accounts/{accountID}/holdings?as_of=.
// Without as_of every transaction is included.
func (s *Service) GetHoldings(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var asOf *model.Day
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		day, err := model.ParseDay(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		asOf = &day
	}

	in, err := s.load(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}

	params := map[string]string{}
	if asOf != nil {
		params["as_of"] = string(*asOf)
	}
	key := store.Fingerprint(accountID, metrics.SurfaceHoldings, params, in.rev)
	s.serveCached(w, r, metrics.SurfaceHoldings, key, func() (any, error) {
		snap, err := holdings.Build(in.txs, in.splits, asOf)
		if err != nil {
			return nil, err
		}
		metrics.ZeroNetDropped.Add(float64(snap.Audit.ZeroNetDropped))
		return snap, nil
	})
}

// GetRealized handles GET /api/v1/accounts/{accountID}/realized?through=.
// through defaults to the current exchange day; checkpoint=true adds a
// resumable checkpoint to the response.
func (s *Service) GetRealized(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	through := s.today()
	if raw := r.URL.Query().Get("through"); raw != "" {
		day, err := model.ParseDay(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		through = day
	}
	withCheckpoint, _ := strconv.ParseBool(r.URL.Query().Get("checkpoint"))

	in, err := s.load(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}

	params := map[string]string{
		"through":    string(through),
		"checkpoint": strconv.FormatBool(withCheckpoint),
	}
	key := store.Fingerprint(accountID, metrics.SurfaceRealized, params, in.rev)
	s.serveCached(w, r, metrics.SurfaceRealized, key, func() (any, error) {
		res, err := realized.Run(in.txs, in.splits, through, nil)
		if err != nil {
			return nil, err
		}
		resp := RealizedResponse{Result: res, ByCloseDay: res.ByCloseDay()}
		if withCheckpoint {
			resp.Checkpoint = res.Checkpoint()
		}
		return resp, nil
	})
}

// ResumeRealized handles POST /api/v1/accounts/{accountID}/realized/resume.
// The run continues from the posted checkpoint and returns a new one.
func (s *Service) ResumeRealized(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req ResumeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Checkpoint == nil {
		writeError(w, "checkpoint is required", http.StatusBadRequest)
		return
	}
	through := s.today()
	if req.Through != "" {
		day, err := model.ParseDay(req.Through)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		through = day
	}

	in, err := s.load(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}

	s.serveCached(w, r, metrics.SurfaceRealized, "", func() (any, error) {
		res, err := realized.Run(in.txs, in.splits, through, req.Checkpoint)
		if err != nil {
			return nil, err
		}
		return RealizedResponse{Result: res, ByCloseDay: res.ByCloseDay(), Checkpoint: res.Checkpoint()}, nil
	})
}

// GetCalendar handles GET /api/v1/accounts/{accountID}/calendar?from=&to=.
// Ranges reaching the current day are never cached because their statuses
// depend on the clock.
func (s *Service) GetCalendar(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if to == "" {
		to = string(s.today())
	}
	if from == "" {
		from = to
	}
	days, err := calendar.Range(from, to)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	last := model.Day(days[len(days)-1])

	ctx := r.Context()
	in, err := s.load(ctx, accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	book, err := s.store.PriceBook(ctx, "", last)
	if err != nil {
		writeError(w, "failed to load prices", http.StatusInternalServerError)
		return
	}

	var key string
	if last.Before(s.today()) {
		key = store.Fingerprint(accountID, metrics.SurfaceCalendar,
			map[string]string{"from": days[0], "to": string(last)}, in.rev)
	}
	s.serveCached(w, r, metrics.SurfaceCalendar, key, func() (any, error) {
		res, err := s.engine.Run(calendar.Request{
			Transactions: in.txs,
			Splits:       in.splits,
			Days:         days,
			Prices:       book,
		})
		if err != nil {
			return nil, err
		}
		metrics.ObserveCalendar(res.Days)
		return res, nil
	})
}

// GetIntraday handles GET /api/v1/accounts/{accountID}/intraday?day=&price=KEY:VALUE.
// Live prices are given as repeated price parameters; keys without one
// fall back to the stored close for the day.
func (s *Service) GetIntraday(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	q := r.URL.Query()
	day := s.today()
	if raw := q.Get("day"); raw != "" {
		d, err := model.ParseDay(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		day = d
	}
	live, err := parseLivePrices(q["price"])
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	in, err := s.load(ctx, accountID)
	if err != nil {
		writeError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	book, err := s.store.PriceBook(ctx, day, day)
	if err != nil {
		writeError(w, "failed to load prices", http.StatusInternalServerError)
		return
	}
	for key, e := range book.Entries[day] {
		if _, ok := live[key]; !ok && e.Status == model.PriceOK {
			live[key] = e.Close
		}
	}

	start := time.Now()
	res, err := intraday.Run(in.txs, in.splits, day, live)
	metrics.ObserveRun(metrics.SurfaceIntraday, start, err)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseLivePrices(raw []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for _, p := range raw {
		key, val, ok := strings.Cut(p, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("price %q: expected KEY:VALUE", p)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("price %q: invalid value", p)
		}
		out[normalizePriceKey(key)] = price
	}
	return out, nil
}
