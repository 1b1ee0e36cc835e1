/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboard frontends

ROUTE GROUPS:
  /api/envelopes/*     Budget envelope ledger
  /api/disasters/*     Disaster verification hook
  /api/funds/*         Incident funds
  /api/expenditures/*  Expenditure workflow
  /api/adjustments/*   Inter-envelope transfers
  /api/assessments/*   Household assessment intake and scoring
  /api/forecast/*      Depletion, prediction, gap, simulation
  /api/audit           Audit log queries
  /api/scenarios/*     Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Envelope routes
		r.Route("/envelopes", func(r chi.Router) {
			r.Get("/", h.ListEnvelopes)
			r.Get("/{type}", h.GetEnvelope)
			r.Post("/{type}/allocate", h.AllocateEnvelope)
		})

		// Disaster verification hook
		r.Post("/disasters/verify", h.VerifyDisaster)

		// Fund routes
		r.Route("/funds", func(r chi.Router) {
			r.Get("/", h.ListFunds)
			r.Get("/{id}", h.GetFund)
			r.Post("/{id}/close", h.CloseFund)
			r.Get("/{id}/expenditures", h.ListFundExpenditures)
			r.Get("/{id}/plans", h.ListFundPlans)
		})

		// Expenditure workflow routes
		r.Route("/expenditures", func(r chi.Router) {
			r.Post("/", h.RecordExpenditure)
			r.Get("/{id}", h.GetExpenditure)
			r.Post("/{id}/approve", h.ApproveExpenditure)
			r.Post("/{id}/reject", h.RejectExpenditure)
			r.Post("/{id}/void", h.VoidExpenditure)
		})

		// Adjustment routes
		r.Route("/adjustments", func(r chi.Router) {
			r.Get("/", h.ListAdjustments)
			r.Post("/", h.SubmitAdjustment)
			r.Post("/{id}/approve", h.ApproveAdjustment)
			r.Post("/{id}/reject", h.RejectAdjustment)
		})

		// Assessment routes
		r.Route("/assessments", func(r chi.Router) {
			r.Get("/", h.ListAssessments)
			r.Post("/", h.SubmitAssessment)
			r.Get("/{id}", h.GetAssessment)
			r.Put("/{id}", h.AmendAssessment)
			r.Get("/{id}/score", h.ScoreAssessment)
			r.Post("/{id}/commit", h.CommitAssessment)
		})

		// Forecast routes
		r.Route("/forecast", func(r chi.Router) {
			r.Get("/depletion/{type}", h.GetDepletion)
			r.Post("/predict", h.PredictCost)
			r.Get("/gap", h.GetFundingGap)
			r.Post("/simulate/{type}", h.SimulateIncident)
		})

		// Audit routes
		r.Get("/audit", h.QueryAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
