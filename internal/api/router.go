package api

import (
	"encoding/json"
	"net/http"

	"github.com/tars-dashboard/engine/internal/api/handlers"
	"github.com/tars-dashboard/engine/internal/api/middleware"
	"github.com/tars-dashboard/engine/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.SessionCookie{
		Name:   cfg.Sessions.CookieName,
		Secure: cfg.Sessions.CookieSecure,
	}.Handler)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/", h.CreateSession)
			r.Delete("/", h.DeleteSession)
		})

		// Everything below needs an unlocked session
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUnlocked(h.Unlocked))

			r.Get("/dashboard", h.GetDashboard)
			r.Get("/insights", h.GetInsights)
			r.Post("/refresh", h.Refresh)
			r.Put("/visibility", h.SetVisibility)
			r.Get("/events", h.StreamEvents)

			r.Route("/chat", func(r chi.Router) {
				r.Post("/link", h.ChatLink)
				r.Get("/history", h.ChatHistory)
			})
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "tars-dashboard",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "tars-dashboard",
		})
	}
}
