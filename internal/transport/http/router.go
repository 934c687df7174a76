package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coursesmith/internal/config"
	"coursesmith/internal/websocket"
)

// RouterDeps carries the wired collaborators the router mounts.
type RouterDeps struct {
	License     *LicenseHandler
	Health      *HealthHandler
	Hub         *websocket.Hub
	MetricsHTTP http.Handler
}

// NewRouter assembles the service router: license API under
// /api/license, the websocket event stream at /ws, health and
// Prometheus metrics at the root.
func NewRouter(cfg config.ServerConfig, deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", deps.Health.Healthz)
	if deps.MetricsHTTP != nil {
		r.Handle("/metrics", deps.MetricsHTTP)
	}
	if deps.Hub != nil {
		r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
			deps.Hub.ServeWS(w, req)
		})
	}

	r.Route("/api/license", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		r.Mount("/", deps.License.Routes())
	})

	return r
}
