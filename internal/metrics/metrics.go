// Package metrics provides Prometheus instrumentation for the portfolio
// ledger. Adapted from the teacher's metrics package: metric names are
// renamed to the mutual-fund domain, the HTTP middleware is kept verbatim.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsTotal counts BUY/SELL transactions recorded, partitioned
	// by type.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfledger_transactions_total",
		Help: "Total number of BUY/SELL transactions recorded",
	}, []string{"type"})

	// TransactionLatency is a histogram of BUY/SELL processing latency.
	TransactionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfledger_transaction_latency_seconds",
		Help:    "BUY/SELL processing latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// ActivePortfolios is registered for the number of portfolios with a
	// non-empty position; nothing in this module sets it, so it reports 0.
	ActivePortfolios = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mfledger_active_portfolios",
		Help: "Number of portfolios currently holding units in any scheme",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mfledger_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfledger_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ConcentrationFlagsTotal counts advisory concentration flags raised
	// by internal/risk, partitioned by reason.
	ConcentrationFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfledger_concentration_flags_total",
		Help: "Advisory concentration flags raised on PortfolioValue",
	}, []string{"reason"})

	// NavRefreshRunsTotal counts navrefresh.Engine runs, partitioned by
	// outcome (completed, rejected, cancelled).
	NavRefreshRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mfledger_nav_refresh_runs_total",
		Help: "NAV refresh engine runs by outcome",
	}, []string{"outcome"})

	// NavRefreshSchemeFailures counts individual scheme fetch failures
	// during a refresh run.
	NavRefreshSchemeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mfledger_nav_refresh_scheme_failures_total",
		Help: "Per-scheme NAV fetch failures during refresh runs",
	})

	// NavRefreshRunDuration is a histogram of full refresh run duration.
	NavRefreshRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mfledger_nav_refresh_run_duration_seconds",
		Help:    "NAV refresh engine run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

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

		// Use the route pattern for path label to avoid high cardinality.
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
