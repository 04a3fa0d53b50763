package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/scmmishra/tally/internal/metrics"
)

// routeTimeoutHeadroom lets the aggregator answer with partial results at its
// own deadline before the router gives up with a 504.
const routeTimeoutHeadroom = 2 * time.Second

func aggregationRouteTimeout(aggregateTimeout time.Duration) time.Duration {
	return aggregateTimeout + routeTimeoutHeadroom
}

// Routes mounts the visit endpoints. Aggregation endpoints are cut off shortly
// after aggregateTimeout.
func Routes(h *VisitHandler, m *metrics.Metrics, aggregateTimeout time.Duration) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(Metrics(m))

	r.Post("/record", h.Record)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(aggregationRouteTimeout(aggregateTimeout)))
		r.Get("/stats", h.Stats)
		r.Get("/analytics", h.Analytics)
		r.Get("/history", h.History)
	})
	return r
}
