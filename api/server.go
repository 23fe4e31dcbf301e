/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend

ROUTE GROUPS:
  /api/notes/*       Note lifecycle, artifacts, audit
  /api/registry/*    Client/insurer/policy seeding

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
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-Id", "X-Actor-Role"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Note lifecycle routes
		r.Route("/notes", func(r chi.Router) {
			r.Get("/", h.ListNotes)
			r.Post("/", h.CreateNote)
			r.Get("/{id}", h.GetNote)
			r.Put("/{id}", h.UpdateNote)
			r.Post("/{id}/approve", h.ApproveNote)
			r.Post("/{id}/issue", h.IssueNote)
			r.Post("/{id}/regenerate", h.RegenerateArtifact)
			r.Get("/{id}/verify", h.VerifyArtifact)
			r.Get("/{id}/artifact", h.GetArtifact)
			r.Post("/{id}/dispatch", h.DispatchNote)
			r.Get("/{id}/audit", h.GetAuditTrail)
		})

		// Registry seeding routes
		r.Route("/registry", func(r chi.Router) {
			r.Post("/clients", h.CreateClient)
			r.Post("/insurers", h.CreateInsurer)
			r.Post("/policies", h.CreatePolicy)
		})
	})

	return r
}
