package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatterbox/internal/app"
	"chatterbox/internal/config"
)

const shutdownTimeout = 30 * time.Second

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run() error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	cfg, err := config.LoadConfigWithPrecedence(os.Getenv("CHATTERBOX_CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, application)
}

type server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// serve starts srv and blocks until ctx ends, then shuts it down.
func serve(ctx context.Context, srv server) error {
	if err := srv.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Stop(shutdownCtx)
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	log.Printf("Shutdown requested, stopping gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
