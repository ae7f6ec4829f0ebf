package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handlePrometheus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/hardware", func(r chi.Router) {
			r.Get("/", s.handleListHardware)
			r.Post("/", s.handleCreateHardware)
			r.Get("/{id}", s.handleGetHardware)
			r.Delete("/{id}", s.handleDeleteHardware)
		})

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", s.handleListActions)
			r.Post("/", s.handleCreateAction)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAction)
				r.Patch("/", s.handleUpdateAction)
				r.Delete("/", s.handleDeleteAction)
				r.Get("/triggers", s.handleListTriggers)
				r.Post("/triggers", s.handleCreateTrigger)
			})
		})

		r.Route("/triggers/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTrigger)
			r.Patch("/", s.handleUpdateTrigger)
			r.Delete("/", s.handleDeleteTrigger)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/", s.handleCreateQueueEntry)
			r.Post("/process", s.handleProcessQueue)
			r.Get("/{id}", s.handleGetQueueEntry)
		})

		r.Get("/scripts", s.handleListScripts)

		r.Route("/energy", func(r chi.Router) {
			r.Patch("/consumers/{id}", s.handleUpdateConsumer)
			r.Patch("/sources/{id}", s.handleUpdateSource)

			r.Route("/{deployment}", func(r chi.Router) {
				r.Get("/settings", s.handleGetEnergySettings)
				r.Put("/settings", s.handlePutEnergySettings)
				r.Get("/consumers", s.handleListConsumers)
				r.Post("/consumers", s.handleCreateConsumer)
				r.Get("/sources", s.handleListSources)
				r.Post("/sources", s.handleCreateSource)
				r.Get("/evaluate", s.handleEvaluateEnergy)
				r.Post("/check", s.handleCheckEnergy)
			})
		})

		r.Route("/forecast", func(r chi.Router) {
			r.Post("/actions/{id}/plan", s.handleForecastPlan)
			r.Post("/consumers/{id}/soc", s.handleForecastSoC)
			r.Delete("/consumers/{id}", s.handleCancelForecast)
		})

		r.Post("/sensors/{id}/measurements", s.handleMeasurement)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.db != nil {
		if err := s.db.HealthCheck(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
	})
}
