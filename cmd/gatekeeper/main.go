package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatekeeper/internal/api"
	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/observability"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/registry"
	"gatekeeper/internal/stats"
	"gatekeeper/internal/version"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
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
	otelProvider, err := observability.Setup(cfg, ver)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handlerOpts := []api.HandlerOption{}
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	downstream, err := newDownstream(cfg.Upstream)
	if err != nil {
		slog.Error("Failed to configure upstream", "error", err)
		os.Exit(1)
	}
	if downstream != nil {
		routeOpts = append(routeOpts, api.WithDownstream(downstream))
	}

	// Initialize rate limiter if enabled
	if cfg.RateLimit.Enabled {
		limiter, reg, recorder, err := initializeRateLimiter(ctx, cfg, otelProvider)
		if err != nil {
			slog.Error("Failed to initialize rate limiter", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()

		keyFunc, err := ratelimit.KeyFuncFor(cfg.RateLimit.KeyExtractor, cfg.RateLimit.KeyHeader)
		if err != nil {
			slog.Error("Failed to configure key extractor", "error", err)
			os.Exit(1)
		}

		mwOpts := []ratelimit.MiddlewareOption{}
		if recorder != nil {
			defer func() {
				if err := recorder.Close(); err != nil {
					slog.Error("Failed to close stats store", "error", err)
				}
			}()
			mwOpts = append(mwOpts, ratelimit.WithRecorder(recorder))
			handlerOpts = append(handlerOpts, api.WithDecisionStats(recorder))
		}

		handlerOpts = append(handlerOpts, api.WithRegistryStats(reg))
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(limiter, keyFunc, mwOpts...)))

		slog.Info("Rate limiting enabled",
			"capacity", cfg.RateLimit.Capacity,
			"refill_period", cfg.RateLimit.RefillPeriod,
			"refill_mode", cfg.RateLimit.RefillMode,
			"eviction", cfg.RateLimit.Eviction,
			"key_extractor", cfg.RateLimit.KeyExtractor)
	}

	handlers := api.NewHandlers(cfg, handlerOpts...)
	router := api.SetupRoutes(handlers, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server")
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

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

// initializeRateLimiter builds the bucket registry, starts its janitor and
// opens the decision stats store when enabled.
func initializeRateLimiter(ctx context.Context, cfg *models.Config, provider *observability.Provider) (*observability.InstrumentedLimiter, *registry.Registry, *stats.Recorder, error) {
	base, err := ratelimit.NewFromConfig(cfg.RateLimit)
	if err != nil {
		return nil, nil, nil, err
	}
	reg := base.Registry()

	limiter, err := observability.NewInstrumentedLimiter(base,
		observability.WithMeterProvider(provider.MeterProvider()),
		observability.WithTracerProvider(provider.TracerProvider()),
		observability.WithRegistryStats(reg),
	)
	if err != nil {
		base.Close()
		return nil, nil, nil, fmt.Errorf("failed to instrument rate limiter: %w", err)
	}
	reg.Start(ctx)

	if !cfg.Stats.Enabled {
		return limiter, reg, nil, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := stats.NewFactory().Create(storeCtx, cfg.Stats)
	if err != nil {
		limiter.Close()
		return nil, nil, nil, fmt.Errorf("failed to open stats store: %w", err)
	}
	slog.Info("Decision statistics enabled", "type", cfg.Stats.Type)

	recorder := stats.NewRecorder(store, cfg.Stats.BufferSize, cfg.Stats.FlushInterval)
	return limiter, reg, recorder, nil
}

// newDownstream returns a reverse proxy for the configured upstream, or nil
// to serve the built-in echo handler.
func newDownstream(cfg models.UpstreamConfig) (http.Handler, error) {
	if cfg.URL == "" {
		slog.Info("No upstream configured; admitted requests are answered by the echo handler")
		return nil, nil
	}
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	slog.Info("Proxying admitted requests", "upstream", target.Redacted())
	return api.NewUpstreamProxy(target), nil
}
