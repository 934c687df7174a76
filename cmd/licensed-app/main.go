// Command licensed-app runs the entitlement service: the local HTTP
// API and websocket event stream the CourseSmith UI talks to.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"coursesmith/internal/app"
	"coursesmith/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "licensed-app: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for development; real deployments set CS_* vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
