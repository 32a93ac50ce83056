package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps holds everything the HTTP surface needs.
type RouterDeps struct {
	TaskService     TaskServiceI
	AdminService    AdminServiceI
	Verifier        TokenVerifier
	Enabled         bool
	AdminMaxPerPage int
	UserRateLimit   float64
	UserRateBurst   int
	Logger          *slog.Logger
}

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up task routes, health check, and Prometheus metrics endpoint.
func NewRouter(deps RouterDeps) *chi.Mux {
	logger := deps.Logger
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(requestLogger(logger))

	taskHandler := NewTaskHandler(deps.TaskService, deps.Enabled, logger)
	adminHandler := NewAdminHandler(deps.AdminService, deps.Enabled, deps.AdminMaxPerPage, logger)
	throttle := newUserThrottle(deps.UserRateLimit, deps.UserRateBurst)

	r.Route("/api/v2.1", func(r chi.Router) {
		r.Use(authenticate(deps.Verifier, logger))
		r.Use(throttle.Middleware)

		r.Put("/offline-download-tasks", taskHandler.AddTask)
		r.Get("/offline-download-tasks", taskHandler.ListTasks)

		r.With(requireAdmin).Get("/admin/offline-download-tasks", adminHandler.ListTasks)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
