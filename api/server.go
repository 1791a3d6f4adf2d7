/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind proxies
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Timeout:    Cancels the request context after 60s
  6. CORS:       Cross-origin requests for admin frontends

SECURITY NOTE:
  No authentication middleware. Actor names are taken from request bodies
  as given; put the service behind an authenticating proxy.

DEMO ROUTES:
  /api/scenarios and /api/scenarios/load exist only when
  Handler.EnableScenarios is set.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured. An empty origins
// list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/cycles", func(r chi.Router) {
			r.Get("/", h.ListCycles)
			r.Post("/", h.SaveCycle)
			r.Get("/{id}", h.GetCycle)
		})
		r.Post("/instructors", h.SaveInstructor)
		r.Post("/registrations", h.SaveRegistration)
		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.SaveExpense)
		})

		r.Route("/meetings", func(r chi.Router) {
			r.Get("/", h.ListMeetings)
			r.Post("/", h.CreateMeeting)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMeeting)
				r.Delete("/", h.DeleteMeeting)
				r.Get("/preview", h.PreviewSettlement)
				r.Get("/chain", h.GetChain)
				r.Post("/complete", h.CompleteMeeting)
				r.Post("/cancel", h.CancelMeeting)
				r.Post("/postpone", h.PostponeMeeting)
				r.Put("/status", h.UpdateStatus)
				r.Post("/recalculate", h.RecalculateMeeting)
				r.Post("/requests", h.SubmitRequest)
				r.Post("/approve", h.ApproveRequest)
				r.Post("/reject", h.RejectRequest)
			})
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Post("/complete", h.BulkComplete)
			r.Post("/recalculate", h.BulkRecalculate)
			r.Post("/status", h.BulkUpdateStatus)
			r.Post("/delete", h.BulkDelete)
		})

		r.Route("/forecast", func(r chi.Router) {
			r.Get("/", h.GetForecast)
			r.Get("/latest", h.GetLatestForecast)
		})

		if h.EnableScenarios {
			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		}
	})

	return r
}
