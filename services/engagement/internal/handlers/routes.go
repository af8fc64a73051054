package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/example/answer-engagement/internal/platform/auth"
)

type RouteOptions struct {
	Verifier auth.JWTVerifier
	// RequireAuth makes a bearer token mandatory on the action endpoints.
	RequireAuth bool
}

// Register mounts the engagement routes on r. r must already carry the
// shared platform middleware.
func (h *Handlers) Register(r chi.Router, opts RouteOptions) {
	r.Handle("/metrics", h.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.metrics.Middleware)
		if opts.Verifier.Enabled() {
			r.Use(auth.OptionalUser(opts.Verifier))
		}

		r.Get("/api/user-data", h.UserData)
		r.Get("/api/answers", h.ListAnswers)
		r.Get("/api/answers/{answer_id}", h.GetAnswer)
		r.Get("/api/favorites", h.Favorites)

		r.Group(func(r chi.Router) {
			if opts.RequireAuth {
				r.Use(auth.RequireUser(opts.Verifier))
			}
			r.Post("/api/actions", h.Actions)
			r.Post("/api/favorites/actions", h.Actions)
		})
	})
}
