package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/fraruiz/pgmb/internal/config"
	"github.com/fraruiz/pgmb/internal/metrics"
	"github.com/fraruiz/pgmb/internal/transport/http/handlers"
	mw "github.com/fraruiz/pgmb/internal/transport/http/middleware"
)

// New assembles the broker API. auth may be nil, which leaves the surface
// open (dev mode, or a trusted network in front).
func New(
	h *handlers.BrokerHandler,
	z *handlers.HealthHandler,
	auth *mw.AuthMiddleware,
	cfg *config.Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.AccessLog)

	if cfg.RLEnabled {
		r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
	}

	r.Get("/healthz", z.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	r.Route("/mq/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth.Require)
		}

		r.Post("/messages", h.Publish)
		r.Get("/messages/{message_id}", h.GetMessage)

		r.Post("/workers", h.CreateWorker)
		r.Get("/workers", h.ListWorkers)
		r.Get("/workers/{worker_id}", h.GetWorker)
		r.Delete("/workers/{worker_id}", h.DeleteWorker)
		r.Post("/workers/{worker_id}/heartbeat", h.Heartbeat)

		r.Post("/queues", h.CreateQueue)
		r.Get("/queues", h.ListQueues)
		r.Get("/queues/{queue_name}", h.GetQueue)
		r.Delete("/queues/{queue_name}", h.DeleteQueue)
		r.Get("/queues/{queue_name}/dead-letters", h.ListDeadLetters)
	})

	return r
}
