package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/scanline-io/timetablex/internal/blobstore"
	"github.com/scanline-io/timetablex/internal/queue"
	"github.com/scanline-io/timetablex/internal/repositories"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after every component is constructed and passed to
// NewRouter as a single struct to keep the constructor manageable.
type RouterConfig struct {
	Logger *zap.Logger

	Jobs     repositories.JobRepository
	Webhooks repositories.WebhookRepository
	Queue    queue.Queue
	Blobs    blobstore.Store
}

// NewRouter builds and returns the fully configured Chi router. All job
// routes are registered under /api/v2/timetable, matching the external
// interface: submission, status/result, listing, webhook attachment,
// cancellation, the FullCalendar projection, and DLQ housekeeping. /metrics
// exposes the Prometheus collectors registered in internal/metrics. There is
// no authentication layer — multi-tenant access control is out of scope.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	jobs := NewJobHandler(cfg.Jobs, cfg.Webhooks, cfg.Queue, cfg.Blobs, cfg.Logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v2/timetable", func(r chi.Router) {
		r.Post("/upload", jobs.Submit)
		r.Get("/jobs", jobs.List)
		r.Get("/jobs/{jobId}", jobs.GetByID)
		r.Post("/jobs/{jobId}/webhook", jobs.AttachWebhook)
		r.Delete("/jobs/{jobId}", jobs.Cancel)
		r.Get("/jobs/{jobId}/fullcalendar", jobs.FullCalendar)
		r.Get("/dlq", jobs.ListDLQ)
	})

	return r
}
