// jobs-service is the HTTP API server that queues and runs container jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"jobengine/internal/api"
	"jobengine/internal/artifact"
	"jobengine/internal/config"
	"jobengine/internal/dispatcher"
	"jobengine/internal/health"
	"jobengine/internal/job"
	"jobengine/internal/notify"
	"jobengine/internal/observability"
	"jobengine/internal/orchestrator"
	"jobengine/internal/orchestrator/docker"
	"jobengine/internal/store"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

func main() {
	svcCfg := config.LoadServiceConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(svcCfg.LogLevel)})))

	if err := run(svcCfg); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(svcCfg *config.ServiceConfig) error {
	ctx := context.Background()

	// Load configuration
	jobCfg := job.LoadConfigFromEnv()
	execCfg := orchestrator.LoadConfigFromEnv()
	runtimeCfg := docker.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	notifyCfg := notify.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(execCfg.ArtifactsRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts root: %w", err)
	}

	jobStore, err := store.OpenSQLite(svcCfg.DatabasePath)
	if err != nil {
		return err
	}
	defer jobStore.Close()
	slog.Info("Opened job store", "path", svcCfg.DatabasePath)

	runtime, err := docker.New(runtimeCfg)
	if err != nil {
		return err
	}
	defer runtime.Close()

	if err := runtime.Ready(ctx); err != nil {
		slog.Warn("Docker daemon not reachable at startup", "error", err)
	} else {
		slog.Info("Connected to Docker daemon")
	}

	var notifier job.Notifier
	var webhook *notify.Webhook
	if notifyCfg.Enabled() {
		webhook = notify.NewWebhook(notifyCfg, metrics)
		notifier = webhook
	}

	executor := orchestrator.NewExecutor(execCfg, jobStore, runtime, notifier, metrics)

	// Reconcile state left by a previous process before accepting work.
	// Nothing runs yet, so every managed container is an orphan.
	if removed, err := runtime.RemoveOrphans(ctx, executor.Active); err != nil {
		slog.Warn("Failed to remove orphaned containers", "error", err)
	} else if removed > 0 {
		slog.Info("Removed orphaned containers", "count", removed)
	}
	if failed, err := executor.RecoverOrphans(ctx); err != nil {
		return err
	} else if failed > 0 {
		slog.Info("Failed jobs interrupted by restart", "count", failed)
	}

	jobDispatcher := dispatcher.NewMemory(dispatcherCfg, executor.Execute, metrics)
	if requeued, err := jobDispatcher.RequeuePending(ctx, jobStore); err != nil {
		slog.Warn("Failed to requeue pending jobs", "error", err)
	} else if requeued > 0 {
		slog.Info("Requeued pending jobs", "count", requeued)
	}

	jobService := job.NewService(jobCfg, job.Deps{
		Store:      jobStore,
		Dispatcher: jobDispatcher,
		Stopper:    executor,
		Archiver:   artifact.NewArchiver("", metrics),
		Notifier:   notifier,
		Metrics:    metrics,
	})

	healthChecker := health.NewChecker(
		health.Dependency{Name: "docker", Checker: runtime},
		health.Dependency{Name: "database", Checker: health.ReadinessFunc(jobStore.Ping)},
		health.Dependency{Name: "disk", Checker: health.NewDiskCheck(execCfg.ArtifactsRoot, svcCfg.DiskMaxUsedPercent), Optional: true},
	)

	var createLimiter *rate.Limiter
	if svcCfg.CreateRate > 0 {
		createLimiter = rate.NewLimiter(rate.Limit(svcCfg.CreateRate), svcCfg.CreateBurst)
	}

	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
		CreateLimiter: createLimiter,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// WriteTimeout covers result downloads; log streams set their own deadlines.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
		slog.Error("Server failed to start", "error", runErr)
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if runErr == nil && svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop accepting requests, finish in-flight ones
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Let running jobs finish. Queued jobs stay queued and are
	// picked up by the next process.
	slog.Info("Stopping job dispatcher", "running", len(executor.ActiveJobs()))
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), svcCfg.ShutdownJobWait)
	defer dispatcherCancel()
	if err := jobDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := jobDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"retried", stats.Retried,
		"abandoned", stats.QueueDepth,
	)

	// Phase 4: Flush status notifications produced by the final jobs
	if webhook != nil {
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		if err := webhook.Close(notifyCtx); err != nil {
			slog.Warn("Notifier shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return runErr
}
