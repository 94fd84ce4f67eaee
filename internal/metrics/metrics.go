// Package metrics provides Prometheus instrumentation for the PnL engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/pnl-engine/internal/model"
)

// Engine surfaces used as the "surface" label.
const (
	SurfaceHoldings = "holdings"
	SurfaceRealized = "realized"
	SurfaceCalendar = "calendar"
	SurfaceIntraday = "intraday"
)

var (
	// EngineRunsTotal counts engine runs, partitioned by surface and outcome.
	EngineRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_engine_runs_total",
		Help: "Total number of engine runs",
	}, []string{"surface", "outcome"})

	// EngineRunLatency tracks how long a single engine run takes.
	EngineRunLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_engine_run_latency_seconds",
		Help:    "Engine run latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"surface"})

	// ZeroNetDropped counts positions elided from snapshots for netting to zero.
	ZeroNetDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_zero_net_positions_dropped_total",
		Help: "Positions dropped from holdings snapshots with zero net quantity",
	})

	// DayStatuses counts calendar records by status.
	DayStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_calendar_day_status_total",
		Help: "Calendar records emitted, by day status",
	}, []string{"status"})

	// MissingSymbols counts symbol-days without a usable price.
	MissingSymbols = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_calendar_missing_symbols_total",
		Help: "Symbol-days valued without a usable price",
	})

	// CacheLookups counts result-cache lookups by surface and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_result_cache_lookups_total",
		Help: "Result cache lookups",
	}, []string{"surface", "result"})

	// IngestedTransactions counts transactions accepted from raw records.
	IngestedTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_ingested_transactions_total",
		Help: "Transactions accepted by ingest",
	})

	// IngestWarnings counts normalization warnings by code.
	IngestWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_ingest_warnings_total",
		Help: "Normalization warnings raised during ingest",
	}, []string{"code"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// ObserveRun records one engine run that started at start.
func ObserveRun(surface string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EngineRunsTotal.WithLabelValues(surface, outcome).Inc()
	EngineRunLatency.WithLabelValues(surface).Observe(time.Since(start).Seconds())
}

// ObserveCalendar records per-day statuses and missing symbols.
func ObserveCalendar(days []model.DailyPnL) {
	for _, d := range days {
		DayStatuses.WithLabelValues(string(d.Status)).Inc()
		MissingSymbols.Add(float64(len(d.MissingSymbols)))
	}
}

// ObserveWarnings counts warnings by code.
func ObserveWarnings(ws []model.Warning) {
	for _, w := range ws {
		IngestWarnings.WithLabelValues(w.Code).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps account ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
