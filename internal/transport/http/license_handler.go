// Package http exposes the entitlement engine over a local HTTP API
// for the companion UI: validate, status, restore, logout.
package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "coursesmith/internal/errors"
	"coursesmith/internal/license"
	"coursesmith/internal/websocket"
)

// LicenseHandler serves the license endpoints.
type LicenseHandler struct {
	manager  *license.Manager
	hub      *websocket.Hub
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLicenseHandler creates the handler around the manager facade. hub
// may be nil when no UI event push is wanted.
func NewLicenseHandler(manager *license.Manager, hub *websocket.Hub, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		manager:  manager,
		hub:      hub,
		logger:   logger.With(slog.String("handler", "license")),
		validate: validator.New(),
	}
}

// ValidateRequest is the payload for POST /validate.
type ValidateRequest struct {
	Email      string `json:"email" validate:"required,email"`
	LicenseKey string `json:"license_key" validate:"required"`
	// Remember persists the session to the encrypted cache on success.
	Remember bool `json:"remember,omitempty"`
}

// Bind implements render.Binder.
func (v *ValidateRequest) Bind(r *http.Request) error {
	if v.Email == "" {
		return errors.New("email is required")
	}
	if v.LicenseKey == "" {
		return errors.New("license_key is required")
	}
	return nil
}

// StatusResponse is the payload for GET /status.
type StatusResponse struct {
	Validated bool             `json:"validated"`
	Session   *license.Session `json:"session,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Routes returns the chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/validate", h.Validate)
	r.Post("/restore", h.Restore)
	r.Get("/status", h.Status)
	r.Post("/logout", h.Logout)

	return r
}

// Validate handles POST /api/license/validate. Validation can block on
// store and time-server round trips; the route timeout bounds it.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)

	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, "/problems/invalid-request", "Invalid Request",
			err.Error(), r.URL.Path))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusBadRequest, "/problems/invalid-request", "Invalid Request",
			"email must be a valid address", r.URL.Path))
		return
	}

	result := h.manager.Validate(ctx, req.Email, req.LicenseKey)

	h.logger.InfoContext(ctx, "validation request handled",
		slog.String("request_id", reqID),
		slog.Bool("valid", result.Valid),
		slog.String("reason", string(result.Reason)),
	)

	if result.Valid && req.Remember {
		if err := h.manager.RememberSession(); err != nil {
			h.logger.WarnContext(ctx, "failed to persist session cache",
				slog.String("request_id", reqID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.publish(result)

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusForbidden
		if result.Reason == license.ReasonStoreUnreachable {
			status = http.StatusServiceUnavailable
		}
	}
	render.Status(r, status)
	render.JSON(w, r, result)
}

// Restore handles POST /api/license/restore: resume from the encrypted
// session cache, re-validating against the store.
func (h *LicenseHandler) Restore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, restored := h.manager.RestoreSession(ctx)
	if !restored {
		if result.Reason != license.ReasonNone {
			// A cached session existed but failed re-validation.
			h.publish(result)
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, result)
			return
		}
		h.renderProblem(w, r, apperrors.NewProblemDetails(
			http.StatusNotFound, "/problems/no-cached-session", "No Cached Session",
			"no session is cached on this machine", r.URL.Path))
		return
	}

	h.publish(result)
	render.JSON(w, r, result)
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.manager.CurrentSession()
	render.JSON(w, r, StatusResponse{
		Validated: session != nil,
		Session:   session,
		Timestamp: time.Now().UTC(),
	})
}

// Logout handles POST /api/license/logout.
func (h *LicenseHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.manager.Logout()

	if h.hub != nil {
		h.hub.Broadcast(websocket.TypeSessionEnded, nil)
	}
	render.JSON(w, r, map[string]any{"success": true})
}

// publish pushes the validation outcome to connected UI clients.
func (h *LicenseHandler) publish(result license.Result) {
	if h.hub == nil {
		return
	}
	if result.Valid {
		h.hub.Broadcast(websocket.TypeLicenseStatus, map[string]any{
			"valid":   true,
			"tier":    result.Tier,
			"offline": result.Offline,
		})
		return
	}
	h.hub.Broadcast(websocket.TypeLicenseError, map[string]any{
		"valid":   false,
		"reason":  string(result.Reason),
		"message": result.Message,
	})
}

func (h *LicenseHandler) renderProblem(w http.ResponseWriter, r *http.Request, problem *apperrors.ProblemDetails) {
	if err := render.Render(w, r, problem); err != nil {
		h.logger.Error("failed to render problem response",
			slog.String("error", err.Error()),
		)
	}
}
