/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the management frontend

ROUTE GROUPS:
  /api/units/{unitID}/payments/*        Payment preview and commit
  /api/units/{unitID}/obligations       Open obligations
  /api/units/{unitID}/reconciliation    Drift diagnostic
  /api/units/{unitID}/credit/*          Credit ledger
  /api/units/{unitID}/dues              Bill or fetch a fiscal year of dues
  /api/units/{unitID}/meter             Post a meter reading
  /api/reconciliation                   All-units drift sweep
  /metrics                              Prometheus metrics

SECURITY NOTE:
  No authentication middleware; auth is owned by the surrounding platform.
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/units/{unitID}", func(r chi.Router) {
			r.Post("/payments/preview", h.PreviewPayment)
			r.Post("/payments", h.CommitPayment)

			r.Get("/obligations", h.ListObligations)
			r.Get("/reconciliation", h.Reconcile)

			r.Get("/credit", h.GetCreditHistory)
			r.Post("/credit/adjustments", h.AdjustCredit)

			r.Post("/dues", h.CreateDuesRecord)
			r.Get("/dues/{fiscalYear}", h.GetDuesRecord)
			r.Post("/meter", h.PostMeterReading)
		})

		r.Get("/reconciliation", h.ReconcileAll)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
