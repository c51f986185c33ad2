package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", h.handleWebhook)
		r.Route("/meetings", func(r chi.Router) {
			r.Post("/", h.handleStartMeeting)
			r.Get("/{externalId}", h.handleGetMeeting)
			r.Post("/{externalId}/retrieve", h.handleRetrieve)
		})
	})

	return r
}
