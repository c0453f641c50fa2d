package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kibitz-hq/kibitz"
	"github.com/kibitz-hq/kibitz/internal/logger"
)

// runServeCommand wires the whole daemon: config, logging, metrics,
// persistence, the engine pool and the HTTP API, then blocks until
// SIGINT or SIGTERM.
func runServeCommand(flags *GlobalFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=config.toml or provide as argument")
	}

	cfg, err := kibitz.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Root logger; everything below inherits it via slog.Default.
	opts := &slog.HandlerOptions{Level: logger.ParseLevel(cfg.Log.Level)}
	var handler slog.Handler
	if cfg.Log.Color {
		handler = logger.NewColorTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	lg := slog.New(handler)
	slog.SetDefault(lg)

	if cfg.MetricsEnabled() {
		if err := kibitz.RegisterMetricsDefault(); err != nil {
			lg.Warn("failed to register metrics", "error", err)
		}
	}

	svc, err := kibitz.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return fmt.Errorf("start: %w", err)
	}

	server, err := kibitz.NewHTTPServer(svc)
	if err != nil {
		svc.Close()
		return err
	}
	lg.Info("kibitz serving",
		"listen", cfg.Server.Listen,
		"base_path", cfg.Server.BasePath,
		"tls", server.TLSConfig != nil,
		"engines", cfg.Pool.Size)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
	cancel()
	svc.Close()
	lg.Info("kibitz stopped")
	return nil
}
