// Package app is the composition root: it wires config, logging,
// metrics, the store chain and the entitlement manager into a running
// HTTP service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"coursesmith/internal/clock"
	"coursesmith/internal/config"
	"coursesmith/internal/infrastructure"
	"coursesmith/internal/license"
	"coursesmith/internal/security"
	"coursesmith/internal/store"
	transport "coursesmith/internal/transport/http"
	"coursesmith/internal/websocket"
)

// App owns the service's long-lived components.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *infrastructure.MetricsProviders
	hub     *websocket.Hub
	manager *license.Manager
	server  *http.Server
}

// New builds the full service. Construction fails fast on bad config
// or an unusable backend; runtime store outages are handled by the
// failover chain instead.
func New(cfg *config.Config) (*App, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics, err := infrastructure.InitializeMetrics(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	primary, err := buildPrimaryStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	mirror := store.NewFileStore(cfg.FallbackStorePath(), logger)
	failover := store.NewFailover(primary, mirror, logger)

	fp := security.NewFingerprintManager()
	clk := clock.NewReliableClock(cfg.Clock.Servers, cfg.Clock.Timeout, logger)
	cache := license.NewSessionCache(cfg.SessionPath(), cfg.License.SessionSalt, fp, logger)

	licenseMetrics, err := license.InitializeMetrics(metrics.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license metrics: %w", err)
	}

	manager := license.NewManager(failover, clk, fp, cache, logger, licenseMetrics)
	hub := websocket.NewHub(logger)

	router := transport.NewRouter(cfg.Server, transport.RouterDeps{
		License:     transport.NewLicenseHandler(manager, hub, logger),
		Health:      transport.NewHealthHandler(primary, infrastructure.ServiceVersion, logger),
		Hub:         hub,
		MetricsHTTP: metrics.PrometheusHTTP,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		hub:     hub,
		manager: manager,
		server:  server,
	}, nil
}

// buildPrimaryStore selects the configured backend.
func buildPrimaryStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "rest":
		return store.NewRESTStore(cfg.Store, logger), nil
	case "postgres":
		return store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
	case "sheets":
		return store.NewSheetsStore(context.Background(), cfg.Store, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Manager exposes the entitlement facade for embedding callers.
func (a *App) Manager() *license.Manager {
	return a.manager
}

// Run starts the service and blocks until ctx is cancelled or the
// server fails. Shutdown is graceful within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	a.hub.Start()

	// Resume a remembered session before accepting traffic, so the UI
	// sees the restored state on its first status poll.
	if result, restored := a.manager.RestoreSession(ctx); restored {
		a.logger.Info("session restored from cache",
			slog.String("tier", result.Tier),
			slog.Bool("offline", result.Offline),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.hub.Stop()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := a.metrics.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
		}
		infrastructure.CloseLogFile()
		return nil
	})

	err := g.Wait()
	a.logger.Info("stopped")
	return err
}
