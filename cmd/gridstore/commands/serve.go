package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/internal/telemetry"
	"github.com/marmos91/gridstore/pkg/config"
	"github.com/marmos91/gridstore/pkg/gateway"
	prometheusmetrics "github.com/marmos91/gridstore/pkg/metrics/prometheus"
	"github.com/marmos91/gridstore/pkg/store/instrumented"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gridstore gateway",
	Long: `Run the HTTP gateway over the configured store backend.

The gateway serves the /v1/keys and /v1/arrays surfaces plus /healthz and
/metrics. It shuts down gracefully on SIGINT/SIGTERM and re-applies the
logging level when the config file changes.

Examples:
  # Serve with the default config
  gridstore serve

  # Serve with a custom config file
  gridstore serve --config /etc/gridstore/config.yaml

  # Override settings via environment
  GRIDSTORE_LOGGING_LEVEL=DEBUG GRIDSTORE_SERVER_LISTEN=:9000 gridstore serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := cfg.Telemetry
	if telemetryCfg.ServiceVersion == "" {
		telemetryCfg.ServiceVersion = Version
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := cfg.Profiling
	if profilingCfg.ServiceVersion == "" {
		profilingCfg.ServiceVersion = Version
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// Metrics registry shared by the store wrapper and the gateway's
	// /metrics endpoint.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Open the configured backend and instrument it
	st, err := config.NewStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	st = instrumented.New(st, cfg.Store.Backend, prometheusmetrics.NewStoreMetrics(registry))
	logger.Info("Store opened", "backend", cfg.Store.Backend, "cache", cfg.Store.Cache.Enabled)

	gw, err := gateway.New(st, gateway.Config{
		AuthSecret:     cfg.Server.AuthSecret,
		RequestTimeout: cfg.Server.RequestTimeout,
		Metrics:        registry,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	if cfg.Server.AuthSecret == "" {
		logger.Warn("No auth secret configured, mutations are unauthenticated")
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Re-apply the logging level when the config file changes
	watcherDone := watchConfig(ctx, GetConfigFile())
	defer func() { <-watcherDone }()

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		logger.Info("Gateway listening", "addr", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		<-serverDone
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// watchConfig watches the config file and re-applies the logging level on
// changes. The watch targets the directory because editors and config
// management tools replace files by rename, which silently drops a watch
// on the file itself. Returns a channel closed when the watcher exits.
func watchConfig(ctx context.Context, configFile string) <-chan struct{} {
	done := make(chan struct{})

	if configFile == "" {
		if !config.DefaultConfigExists() {
			close(done)
			return done
		}
		configFile = config.GetDefaultConfigPath()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("Config watch disabled", "error", err)
		close(done)
		return done
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		logger.Warn("Config watch disabled", "error", err)
		_ = watcher.Close()
		close(done)
		return done
	}

	logger.Debug("Watching config file", "path", configFile)

	go func() {
		defer close(done)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(configFile) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				reapplyLogLevel(configFile)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watch error", "error", err)
			}
		}
	}()

	return done
}

// reapplyLogLevel reloads the config file and applies its logging level.
// Only the level is hot-swappable; other settings need a restart.
func reapplyLogLevel(configFile string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Warn("Config reload failed, keeping current log level", "error", err)
		return
	}
	current := logger.GetLevel().String()
	logger.SetLevel(cfg.Logging.Level)
	if logger.GetLevel().String() != current {
		logger.Info("Log level changed", "level", cfg.Logging.Level)
	}
}
