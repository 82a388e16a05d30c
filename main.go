package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"challenge-engine/internal/cache"
	"challenge-engine/internal/config"
	"challenge-engine/internal/database"
	"challenge-engine/internal/handlers"
	"challenge-engine/internal/metrics"
	"challenge-engine/internal/notify"
	"challenge-engine/internal/service"
	"challenge-engine/internal/snapshot"
	"challenge-engine/internal/strava"
	"challenge-engine/internal/syncer"
	"challenge-engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("Starting challenge-engine server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel,
		"sync_interval", cfg.SyncInterval,
		"status_sweep_interval", cfg.StatusSweepInterval,
		"weekly_sweep_interval", cfg.WeeklySweepInterval)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Init(); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Lazy sync cooldowns are shared through Redis when configured
	var throttle cache.Throttle = cache.NewMemoryThrottle()
	if cfg.RedisURL != "" {
		redisThrottle, err := cache.NewRedisThrottle(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisThrottle.Close()
		throttle = redisThrottle
		logger.Info("Using Redis for sync cooldowns")
	}

	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, db)
	if cfg.StravaAPIBaseURL != "" {
		stravaClient.SetBaseURL(cfg.StravaAPIBaseURL)
	}
	if cfg.StravaTokenURL != "" {
		stravaClient.SetTokenURL(cfg.StravaTokenURL)
	}

	orchestrator := syncer.New(db, stravaClient, throttle, syncer.Config{
		Concurrency:   cfg.SyncConcurrency,
		RatePerSecond: cfg.SyncRatePerSecond,
		LazyCooldown:  cfg.LazySyncCooldown,
	})
	notifier := notify.NewNotifier(notify.NewStoreSink(db, logger), logger)
	svc := service.New(db, notifier, orchestrator)
	sweeps := worker.NewWorker(svc, orchestrator, snapshot.New(db), cfg)

	recovery := gorillaHandlers.RecoveryHandler(gorillaHandlers.PrintRecoveryStack(true))
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      recovery(gorillaHandlers.ProxyHeaders(handlers.NewRouter(svc, db, cfg.InternalAPIKey))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeps.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sweep worker failed", "error", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		go metrics.StartStatusCollector(ctx, db, 15*time.Second)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("Metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err := <-serveErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	// Let an in-flight sweep finish before the database closes
	wg.Wait()
	logger.Info("Server stopped")
	return nil
}
