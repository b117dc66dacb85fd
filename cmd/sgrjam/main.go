package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sglre6355/sgrjam/internal/app"
	_ "github.com/sglre6355/sgrjam/internal/modules/jam"
)

// version is set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0" ./cmd/sgrjam
var version = "dev"

func main() {
	// Load configuration
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Configure JSON logging. The prompt owns stdout.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	slog.Info("starting sgrjam", "version", version)

	// Create and configure app
	a := app.NewApp(cfg, os.Stdout)
	a.LoadModules()

	// Start app
	if err := a.Start(); err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.RunShell(ctx, "sgrjam> "); err != nil {
		slog.Error("shell failed", "error", err)
	}

	slog.Info("shutting down")
	if err := a.Stop(); err != nil {
		slog.Error("failed to shutdown", "error", err)
	}

	slog.Info("completed shutdown")
}
