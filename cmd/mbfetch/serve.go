package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbfetch/mbfetch/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing the release catalog, transfer control,
live progress streaming, transfer history, and metrics over a REST API.

By default, the server listens on the address configured in the config
file (default: 127.0.0.1:8646). Use --listen to override.`,
		Example: `  mbfetch serve
  mbfetch serve --listen 0.0.0.0:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port, overrides config)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if globalOrchestrator == nil {
		return fmt.Errorf("orchestrator not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	log.Info("server starting", "listen", listen, "output_dir", globalCfg.Download.OutputDir)

	// Create the HTTP server
	srv := server.NewServer(globalOrchestrator, globalCatalog, globalStore, globalCfg, logger)
	srv.SetVersion(version)

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	// Start the server in a goroutine
	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for either an error or a shutdown signal
	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
		fmt.Println("\nShutting down server...")

		if globalOrchestrator.Cancel() {
			log.Info("cancelled in-flight transfer")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}
