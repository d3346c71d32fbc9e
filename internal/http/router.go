package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"visit-intake-service/internal/app"
	"visit-intake-service/internal/observability"
	"visit-intake-service/internal/observability/logging"
)

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application) http.Handler {
	h := &handler{
		registry:         application.Registry,
		sessions:         application.Sessions,
		validator:        application.Validator,
		logger:           logging.WithComponent("api"),
		maxFragmentBytes: application.Cfg.Intake.MaxFragmentBytes,
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(application.Metrics))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1/encounters", func(r chi.Router) {
		r.Post("/", h.createEncounter)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(h.loadEncounter)

			r.Get("/", h.getEncounter)
			r.Delete("/", h.deleteEncounter)

			r.Post("/consent", h.recordConsent)
			r.Post("/consent/decline", h.declineConsent)
			r.Get("/capture", h.capture)

			r.Patch("/billing/codes/{index}", h.editCode)
			r.Delete("/billing/codes/{index}", h.removeCode)
			r.Post("/billing/submit", h.submitBilling)
			r.Post("/billing/cancel", h.cancelReview)

			r.Post("/retry", h.retry)
			r.Post("/cancel", h.cancel)
			r.Post("/restart", h.restart)
		})
	})

	r.Get("/v1/sessions/{id}", h.getSessionData)

	return r
}
