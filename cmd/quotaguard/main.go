package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"

	"quotaguard/internal/api"
	"quotaguard/internal/config"
	"quotaguard/internal/engine"
	"quotaguard/internal/logger"
	"quotaguard/internal/models"
	"quotaguard/internal/observability"
	"quotaguard/internal/provider"
	"quotaguard/internal/quota"
	"quotaguard/internal/ratelimit"
	"quotaguard/internal/resources"
	"quotaguard/internal/storage"
	"quotaguard/internal/task"
	"quotaguard/internal/throttler"
	"quotaguard/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("write-example-config", "", "Write an example configuration to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}
	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *exampleConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()
	meterProvider := otelProvider.MeterProvider()

	// Initialize storage
	storageInstance, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer storageInstance.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var activeStorage storage.Storage = storageInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(storageInstance, meterProvider)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, throttlerMetrics, err := buildService(ctx, cfg, ver, log, activeStorage, meterProvider)
	if err != nil {
		slog.Error("Failed to initialize throttler", "error", err)
		os.Exit(1)
	}
	if err := throttlerMetrics.RegisterGauges(svc); err != nil {
		slog.Error("Failed to register throttler gauges", "error", err)
		os.Exit(1)
	}

	serviceDone := make(chan error, 1)
	go func() {
		serviceDone <- svc.Run(ctx)
	}()

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewMemoryLimiter(cfg.RateLimit)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, log)))
	}

	router := api.SetupRoutes(api.NewHandlers(svc, log), routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider, log)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version, "tasks", len(cfg.Tasks))

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an interrupt or for the refresh loops to fail.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	stopped := false
	select {
	case <-quit:
	case err := <-serviceDone:
		stopped = true
		if err != nil {
			slog.Error("Throttler stopped", "error", err)
		}
	}

	slog.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Storage is closed by a deferred call; refresh loops and persistence
	// must be finished by then.
	if !stopped {
		select {
		case err := <-serviceDone:
			if err != nil {
				slog.Error("Throttler stopped", "error", err)
			}
		case <-shutdownCtx.Done():
			slog.Error("Throttler did not stop before the shutdown timeout")
		}
	}
	svc.Drain()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// buildService wires the quota adapter, provider client, strategy and the
// configured tasks into a throttling engine.
func buildService(ctx context.Context, cfg *models.Config, ver version.Info, log *slog.Logger,
	store storage.Storage, meterProvider metric.MeterProvider) (*engine.Service, *observability.ThrottlerMetrics, error) {
	throttlerMetrics, err := observability.NewThrottlerMetrics(meterProvider)
	if err != nil {
		return nil, nil, fmt.Errorf("creating metrics: %w", err)
	}

	adapter, err := quota.New(quota.Config{
		DefaultReads:         cfg.Provider.DefaultReads,
		WindowWidth:          cfg.Provider.WindowWidth,
		RemainingReadsHeader: cfg.Provider.RemainingReadsHeader,
	}, quota.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("creating quota adapter: %w", err)
	}

	client, err := provider.New(provider.Config{
		BaseURL:           cfg.Provider.BaseURL,
		APIVersion:        cfg.Provider.APIVersion,
		Token:             cfg.Provider.Token,
		Timeout:           cfg.Provider.Timeout,
		DefaultRetryAfter: cfg.Provider.DefaultRetryAfter,
		UserAgent:         ver.UserAgent(),
	}, adapter, provider.WithLogger(log), provider.WithCallObserver(throttlerMetrics))
	if err != nil {
		return nil, nil, fmt.Errorf("creating provider client: %w", err)
	}

	strategy, err := throttler.NewStrategy(adapter, throttler.Config{
		OnDemandReservationPercent:  cfg.Throttler.OnDemandReservationPercent,
		ReservationPercent:          cfg.Throttler.ReservationPercent,
		AggressiveThrottlingPercent: cfg.Throttler.AggressiveThrottlingPercent,
	}, throttler.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("creating strategy: %w", err)
	}

	svc, err := engine.New(engine.Config{
		ReconcileInterval:  cfg.Throttler.ReconcileInterval,
		MinRefreshInterval: cfg.Throttler.MinRefreshInterval,
	}, strategy, adapter, task.NewContainer(),
		engine.WithStorage(store),
		engine.WithMetrics(throttlerMetrics),
		engine.WithLogger(log),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	client.SetListener(svc)

	tasks, err := resources.Build(cfg.Tasks, cfg.Provider, client, resources.BuildOptions{
		HistoryRetention: cfg.Throttler.HistoryRetention,
		TaskOptions:      []task.Option{task.WithLogger(log), task.WithOnFetched(svc.Persist)},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building tasks: %w", err)
	}
	entries := make([]task.Entry, 0, len(tasks))
	for _, t := range tasks {
		entries = append(entries, t)
	}
	if err := svc.Register(ctx, entries...); err != nil {
		return nil, nil, fmt.Errorf("registering tasks: %w", err)
	}

	return svc, throttlerMetrics, nil
}
