/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the routes. This is
  the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address behind proxies
  3. Request log:   zap, one line per request (logger.HTTPMiddleware)
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Configured origins only
  6. Authenticate:  Bearer JWT on everything under /api except health,
                    the public show pages and the development scenario routes

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/ticket-engine/logger"
)

// RouterConfig holds the router settings that come from configuration.
type RouterConfig struct {
	Tokens         *Tokens
	AllowedOrigins []string
	// Scenarios mounts the demo scenario routes. Development only.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.HTTPMiddleware(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/public/shows", func(r chi.Router) {
			r.Get("/", h.PublicShows)
			r.Get("/{id}", h.PublicShow)
			r.Post("/{id}/reservations", h.GuestReserve)
		})

		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Tokens))

			r.Route("/shows", func(r chi.Router) {
				r.Get("/", h.ListShows)
				r.Post("/", h.CreateShow)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetShow)
					r.Put("/", h.UpdateShow)
					r.Delete("/", h.RetireShow)
					r.Get("/tickets", h.SearchTickets)
					r.Post("/tickets", h.GenerateTickets)
					r.Post("/conclude", h.ConcludeShow)
					r.Post("/assign", h.Assign)
					r.Post("/agents/{agentID}/pay", h.PayAgent)
					r.Get("/report", h.ShowReport)
					r.Get("/debtors", h.ShowDebtors)
					r.Get("/activity", h.Activity)
				})
			})

			r.Route("/tickets/{id}", func(r chi.Router) {
				r.Get("/", h.GetTicket)
				r.Post("/sale", h.Sell)
				r.Post("/report", h.ReportSold)
				r.Post("/release", h.ReleaseReservation)
				r.Post("/pay", h.MarkPaid)
			})

			r.Post("/transfers", h.Transfer)
			r.Post("/scan", h.Scan)

			r.Route("/agents/{id}", func(r chi.Router) {
				r.Get("/report", h.AgentReport)
				r.Get("/transfers", h.AgentTransfers)
				r.Delete("/", h.ReleaseAgent)
			})

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})

	return r
}
