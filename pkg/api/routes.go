package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/husmancristian/geaman-engine/pkg/config"
)

// SetupRouter initializes the Chi router and defines the API endpoints.
func SetupRouter(api *API, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Permissive for the dashboard; restrict AllowedOrigins in production.
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", api.HandleEnqueueRun)

		r.Route("/reports/{reportId}", func(r chi.Router) {
			r.Get("/", api.HandleGetReport)
			r.Get("/cases", api.HandleGetReportCases)
		})
		r.Get("/cases/{caseResultId}/steps", api.HandleGetCaseSteps)
		r.Get("/schema/case", api.HandleGetCaseSchema)

		r.Route("/queues", func(r chi.Router) {
			r.Get("/overview", api.HandleGetQueueOverview)
			r.Get("/{project}/status", api.HandleGetQueueStatus)
		})

		r.Get("/projects/{projectName}/reports", api.HandleGetProjectReports)
	})

	return r
}
