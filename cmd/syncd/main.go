package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/attaboy/matchsync/internal/app"
	"github.com/attaboy/matchsync/internal/infra"
	"github.com/attaboy/matchsync/internal/provider"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Remote service
	client := provider.NewClient(provider.ClientConfig{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger.With("component", "gateway"),
	})
	logger.Info("remote service configured", "base_url", cfg.APIBaseURL)

	// Change stream and broker
	hub := infra.NewWSHub(logger.With("component", "ws"))
	kafka := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger.With("component", "kafka"))
	defer func() {
		if err := kafka.Close(); err != nil {
			logger.Warn("kafka close", "error", err)
		}
	}()

	opts := app.Options{
		Config:  *cfg,
		Gateway: client,
		Hub:     hub,
		Logger:  logger,
	}
	if kafka.Enabled() {
		opts.Broker = kafka
	}
	engine := app.NewEngine(opts)

	if cfg.AutoLoad {
		go func() {
			if err := engine.AutoLoad(ctx); err != nil {
				logger.Warn("initial load incomplete", "error", err)
				return
			}
			logger.Info("initial load complete", "window_days", cfg.DefaultWindowDays)
		}()
	}

	r := app.NewRouter(app.RouterDeps{
		Engine:      engine,
		Stream:      hub.ServeWS,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	// Start server
	addr := cfg.Addr()
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Group loads with ?wait=true can take several remote round trips.
		WriteTimeout: 2 * cfg.HTTPTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	engine.Close()
	hub.Shutdown(shutdownCtx)

	logger.Info("server stopped gracefully")
	return nil
}
