package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/indiafolio/mfledger/internal/auth"
	"github.com/indiafolio/mfledger/internal/metrics"
)

// NewRouter builds the chi router for the full spec §6 surface, wired
// against svc and secured by issuer's bearer-token middleware. Mirrors the
// teacher's cmd/server middleware stack (Logger, Recoverer, RequestID,
// RealIP, Timeout) plus a permissive CORS layer for browser clients.
func NewRouter(svc *Service, issuer *auth.Issuer, hub *WSHub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/health", healthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/ws", hub.HandleWS)

	r.Post("/api/auth/dev-token", svc.DevToken)

	r.Group(func(r chi.Router) {
		r.Use(issuer.Middleware)

		r.Route("/api/portfolio", func(r chi.Router) {
			r.Post("/add", svc.AddPosition)
			r.Post("/sell", svc.Sell)
			r.Delete("/remove/{schemeCode}", svc.RemovePosition)
			r.Get("/value", svc.Value)
			r.Get("/list", svc.List)
			r.Get("/history", svc.History)
		})

		r.Get("/api/transactions", svc.Transactions)
		r.Get("/api/schemes/{schemeCode}/nav-history", svc.SchemeNavHistory)

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/cron/run-nav-update", svc.RunNavUpdate)
			r.Get("/nav/runs", svc.NavRuns)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"mfledger"}`))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
