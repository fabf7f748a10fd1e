// Package app provides application lifecycle management for the sync agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/netstatus"
	"github.com/stacklok/promptsync/internal/service"
	"github.com/stacklok/promptsync/internal/sync/coordinator"
)

// CoordinatorFactory builds the scheduler for a backend
type CoordinatorFactory func(b *service.Backend, cfg *config.Config, network netstatus.Monitor) coordinator.Coordinator

// SyncApp encapsulates all components needed to run the sync agent.
// It provides lifecycle management and graceful shutdown capabilities
type SyncApp struct {
	components *AppComponents
	httpServer *http.Server

	newCoordinator CoordinatorFactory

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc

	// scheduler is replaced whenever the backend changes
	schedMu   sync.Mutex
	scheduler *scheduler
	started   bool
	closeOnce sync.Once
}

// scheduler is a running coordinator with its network monitor
type scheduler struct {
	coord  coordinator.Coordinator
	cancel context.CancelFunc
	done   chan struct{}
}

func newSyncApp(components *AppComponents, httpServer *http.Server) *SyncApp {
	app := &SyncApp{
		components: components,
		httpServer: httpServer,
	}
	app.newCoordinator = app.defaultCoordinator
	return app
}

// Service returns the sync service
func (app *SyncApp) Service() service.SyncService {
	return app.components.SyncService
}

// Components returns the application components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *SyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Start starts the background components (config watcher, scheduler and
// control API). This method blocks until the HTTP server stops or encounters
// an error
func (app *SyncApp) Start(ctx context.Context) error {
	app.schedMu.Lock()
	if app.started {
		app.schedMu.Unlock()
		return errors.New("app already started")
	}
	app.started = true
	app.ctx, app.cancelFunc = context.WithCancel(ctx)
	app.schedMu.Unlock()

	go func() {
		if err := app.components.Configs.Watch(app.ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Config watcher failed", "error", err)
		}
	}()

	app.components.SyncService.OnBackendChange(app.restartScheduler)
	backend, err := app.components.SyncService.Backend()
	if err != nil {
		slog.Warn("Automatic sync is inactive until the remote store is configured", "error", err)
	}
	app.restartScheduler(backend, app.components.Configs.Get())

	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// restartScheduler replaces the running coordinator after a backend change
func (app *SyncApp) restartScheduler(b *service.Backend, cfg *config.Config) {
	app.schedMu.Lock()
	defer app.schedMu.Unlock()

	if !app.started || app.ctx.Err() != nil {
		return
	}
	app.stopSchedulerLocked()

	if b == nil || !cfg.Enabled {
		slog.Info("Automatic sync inactive", "enabled", cfg.Enabled)
		return
	}

	ctx, cancel := context.WithCancel(app.ctx)
	monitor := netstatus.NewProbeMonitor(netstatus.StoreProbe(b.Store, b.Layout))
	coord := app.newCoordinator(b, cfg, monitor)
	s := &scheduler{coord: coord, cancel: cancel, done: make(chan struct{})}

	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Network monitor failed", "error", err)
		}
	}()
	go func() {
		defer close(s.done)
		if err := coord.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Sync coordinator failed", "error", err)
		}
	}()

	app.scheduler = s
	slog.Info("Automatic sync scheduled", "remote", b.Store.Location(), "interval", cfg.SyncInterval())
}

func (app *SyncApp) stopSchedulerLocked() {
	s := app.scheduler
	if s == nil {
		return
	}
	app.scheduler = nil
	if err := s.coord.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}
	s.cancel()
	<-s.done
}

func (app *SyncApp) defaultCoordinator(b *service.Backend, cfg *config.Config, network netstatus.Monitor) coordinator.Coordinator {
	return coordinator.New(b.Manager, app.components.StateService, coordinator.SettingsFromConfig(cfg),
		coordinator.WithChangeNotifier(app.components.LocalStore),
		coordinator.WithNetworkMonitor(network))
}

// Stop gracefully stops the application with the given timeout.
// It stops the scheduler and then shuts down the HTTP server
func (app *SyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down...")

	app.schedMu.Lock()
	app.stopSchedulerLocked()
	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	app.schedMu.Unlock()

	// Graceful HTTP server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := app.close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	slog.Info("Shutdown complete")
	return errors.Join(errs...)
}

// Close releases the local store, the config watcher and telemetry. It is
// used by one-shot commands that never call Start.
func (app *SyncApp) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.close(ctx)
}

func (app *SyncApp) close(ctx context.Context) error {
	var errs []error
	app.closeOnce.Do(func() {
		if err := app.components.Configs.Close(); err != nil {
			errs = append(errs, err)
		}
		app.components.Storage.Cleanup()
		if err := app.components.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
