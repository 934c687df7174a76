package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// pinger is the reachability probe of the primary store.
type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store   pinger
	logger  *slog.Logger
	version string
}

// NewHealthHandler creates a health handler probing the given store.
func NewHealthHandler(store pinger, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		logger:  logger.With(slog.String("handler", "health")),
		version: version,
	}
}

// HealthResponse is the probe payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Store     string    `json:"store"`
	Timestamp time.Time `json:"timestamp"`
}

// Healthz handles GET /healthz. The process is alive as long as this
// answers; store connectivity is reported but does not fail the probe,
// because the engine keeps working offline via the local mirror.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	storeStatus := "reachable"
	if err := h.store.Ping(ctx); err != nil {
		storeStatus = "unreachable"
		h.logger.DebugContext(ctx, "store ping failed",
			slog.String("error", err.Error()),
		)
	}

	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Store:     storeStatus,
		Timestamp: time.Now().UTC(),
	})
}
