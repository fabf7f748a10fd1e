package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/promptsync/internal/api"
	"github.com/stacklok/promptsync/internal/app/storage"
	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/desktop"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/service"
	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	"github.com/stacklok/promptsync/internal/telemetry"
	"github.com/stacklok/promptsync/pkg/versions"
)

const (
	// syncTracerName names the tracer of sync runs
	syncTracerName = "github.com/stacklok/promptsync/sync"

	// a manual sync is served synchronously, so request timeouts must cover a
	// whole run including retries
	defaultRequestTimeout = 5 * time.Minute
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = defaultRequestTimeout + 15*time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// SyncAppOptions is a function that configures the sync app builder
type SyncAppOptions func(*syncAppConfig) error

// syncAppConfig collects the builder inputs. It supports dependency injection
// for testing while providing sensible defaults for production.
type syncAppConfig struct {
	configPath string
	stateDir   string

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	backendFactory service.BackendFactory
	opener         desktop.Opener
	telemetry      *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...SyncAppOptions) (*syncAppConfig, error) {
	cfg := &syncAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return cfg, nil
}

// NewSyncApp builds every component from the configuration file. The returned
// app serves one-shot operations right away; Start additionally runs the
// scheduler and the control API.
func NewSyncApp(ctx context.Context, opts ...SyncAppOptions) (*SyncApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	configs, err := config.NewManager(b.configPath)
	if err != nil {
		return nil, err
	}
	cfg := configs.Get()

	if b.stateDir == "" {
		b.stateDir = resolveStateDir(cfg, b.configPath)
	}
	if b.address == "" {
		b.address = cfg.API.Address
	}

	if b.storageFactory == nil {
		b.storageFactory, err = storage.NewStorageFactory(cfg, b.stateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			b.storageFactory.Cleanup()
			_ = configs.Close()
		}
	}()

	components, err := buildSyncComponents(ctx, b, configs)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, b, components)
	if err != nil {
		if shutdownErr := components.Telemetry.Shutdown(ctx); shutdownErr != nil {
			slog.Warn("Failed to shut down telemetry", "error", shutdownErr)
		}
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false
	return newSyncApp(components, httpServer), nil
}

// WithConfigPath sets the configuration file
func WithConfigPath(path string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if path == "" {
			return fmt.Errorf("config path cannot be empty")
		}
		cfg.configPath = path
		return nil
	}
}

// WithStateDirectory sets the directory for the database, the status file and
// the device id. It defaults to the configured stateDir, then to the directory
// of the configuration file.
func WithStateDirectory(dir string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.stateDir = dir
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		if err := validateAddress(addr); err != nil {
			return err
		}
		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithBackendFactory allows injecting how sync backends are built (for testing)
func WithBackendFactory(f service.BackendFactory) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.backendFactory = f
		return nil
	}
}

// WithOpener overrides how the sync directory is opened
func WithOpener(o desktop.Opener) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.opener = o
		return nil
	}
}

// WithTelemetry sets the telemetry providers instead of building them from the
// configuration
func WithTelemetry(t *telemetry.Telemetry) SyncAppOptions {
	return func(cfg *syncAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("address is not a valid port: %s", addr)
	}
	host, port := parts[0], parts[1]
	if host == "localhost" {
		host = "127.0.0.1"
	}
	if host == "" {
		host = "0.0.0.0"
	}

	if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
		return fmt.Errorf("address is not a valid port: %w", err)
	}
	return nil
}

func resolveStateDir(cfg *config.Config, configPath string) string {
	if cfg.StateDir != "" {
		return cfg.StateDir
	}
	return filepath.Dir(configPath)
}

// deviceInfo describes this installation
func deviceInfo(deviceID string, cfg *config.Config) model.DeviceInfo {
	name := cfg.DeviceName
	if name == "" {
		if host, err := os.Hostname(); err == nil {
			name = host
		}
	}
	return model.DeviceInfo{
		DeviceID:   deviceID,
		DeviceName: name,
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		AppVersion: versions.GetVersionInfo().Version,
	}
}

// buildSyncComponents builds the local store, the status tracking and the
// sync service
func buildSyncComponents(
	ctx context.Context,
	b *syncAppConfig,
	configs *config.Manager,
) (*AppComponents, error) {
	slog.Info("Initializing sync components", "state_dir", b.stateDir)
	cfg := configs.Get()

	deviceID, err := status.LoadOrCreateDeviceID(b.stateDir)
	if err != nil {
		return nil, err
	}
	device := deviceInfo(deviceID, cfg)

	local, err := b.storageFactory.CreateLocalStore(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	stateSvc, err := b.storageFactory.CreateStateService(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create state service: %w", err)
	}

	tel := b.telemetry
	if tel == nil {
		tel, err = telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	if b.backendFactory == nil {
		managerOpts := []pkgsync.Option{pkgsync.WithTracer(tel.Tracer(syncTracerName))}
		syncMetrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		if syncMetrics != nil {
			managerOpts = append(managerOpts, pkgsync.WithSyncMetrics(syncMetrics))
			slog.Info("Sync metrics enabled")
		}
		b.backendFactory = service.NewBackendFactory(local, stateSvc, device, managerOpts...)
	}

	var svcOpts []service.Option
	if b.opener != nil {
		svcOpts = append(svcOpts, service.WithOpener(b.opener))
	}
	svc := service.New(configs, stateSvc, device, b.backendFactory, svcOpts...)

	slog.Info("Sync components initialized successfully",
		"device_id", device.DeviceID,
		"device_name", device.DeviceName)

	return &AppComponents{
		Configs:      configs,
		Storage:      b.storageFactory,
		LocalStore:   local,
		StateService: stateSvc,
		Device:       device,
		SyncService:  svc,
		Telemetry:    tel,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *syncAppConfig,
	components *AppComponents,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing and metrics come first so they see every request
	httpMetrics, err := telemetry.NewHTTPMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	b.middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(components.Telemetry.TracerProvider()),
		httpMetrics.Middleware,
	}, b.middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if h := components.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
		slog.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}

	router := api.NewServer(components.SyncService, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
