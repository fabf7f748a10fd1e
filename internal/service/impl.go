package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/desktop"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	"github.com/stacklok/promptsync/internal/sync/state"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// ConfigStore is the configuration source of the service. *config.Manager
// implements it.
type ConfigStore interface {
	Get() *config.Config
	Set(cfg *config.Config) (*config.Config, error)
	RecordConnection(valid bool, message string) error
	OnChange(fn config.ChangeFunc)
}

// BackendListener is called after the active backend changed. b is nil when
// the configuration no longer yields a usable backend.
type BackendListener func(b *Backend, cfg *config.Config)

// DefaultSyncService is the default implementation of SyncService
type DefaultSyncService struct {
	configs    ConfigStore
	stateSvc   state.SyncStateService
	device     model.DeviceInfo
	newBackend BackendFactory
	opener     desktop.Opener
	now        func() time.Time
	logger     *slog.Logger

	mu          sync.Mutex
	backend     *Backend
	fingerprint string

	listenersMu sync.Mutex
	listeners   []BackendListener
}

var _ SyncService = (*DefaultSyncService)(nil)

// Option configures the service
type Option func(*DefaultSyncService)

// WithOpener overrides how the sync directory is opened
func WithOpener(o desktop.Opener) Option {
	return func(s *DefaultSyncService) {
		s.opener = o
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *DefaultSyncService) {
		s.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *DefaultSyncService) {
		s.logger = logger
	}
}

// New creates the sync service. The backend is rebuilt whenever a
// configuration change affects it.
func New(
	configs ConfigStore,
	stateSvc state.SyncStateService,
	device model.DeviceInfo,
	newBackend BackendFactory,
	opts ...Option,
) *DefaultSyncService {
	s := &DefaultSyncService{
		configs:    configs,
		stateSvc:   stateSvc,
		device:     device,
		newBackend: newBackend,
		opener:     desktop.BrowserOpener{},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	configs.OnChange(func(previous, current *config.Config) {
		if fingerprint(previous) != fingerprint(current) {
			s.Refresh()
		}
	})
	return s
}

// OnBackendChange registers fn to run after the backend was rebuilt
func (s *DefaultSyncService) OnBackendChange(fn BackendListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Backend returns the active backend, building it if needed
func (s *DefaultSyncService) Backend() (*Backend, error) {
	b, _, err := s.currentBackend()
	return b, err
}

// Refresh rebuilds the backend from the current configuration and notifies
// listeners.
func (s *DefaultSyncService) Refresh() {
	b, cfg, err := s.currentBackend()
	if err != nil {
		s.logger.Warn("Sync backend unavailable", "error", err)
	}
	s.listenersMu.Lock()
	listeners := append([]BackendListener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(b, cfg)
	}
}

// currentBackend returns the backend for the current configuration. A backend
// with a run in flight is kept until the run finishes so two managers never
// run at once.
func (s *DefaultSyncService) currentBackend() (*Backend, *config.Config, error) {
	cfg := s.configs.Get()
	fp := fingerprint(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil && s.fingerprint == fp {
		return s.backend, cfg, nil
	}
	if s.backend != nil && s.backend.Manager.InProgress() {
		s.logger.Info("Configuration changed during a sync, keeping the current backend until it finishes")
		return s.backend, cfg, nil
	}
	if cfg.Provider == "" {
		s.backend, s.fingerprint = nil, ""
		return nil, cfg, syncerr.Wrap(syncerr.CodeConfiguration, ErrNotConfigured, "sync backend")
	}

	b, err := s.newBackend(cfg)
	if err != nil {
		s.backend, s.fingerprint = nil, ""
		return nil, cfg, err
	}
	s.backend, s.fingerprint = b, fp
	s.logger.Info("Sync backend ready", "provider", cfg.Provider, "remote", b.Store.Location())
	return b, cfg, nil
}

// peekBackend returns the active backend without building one
func (s *DefaultSyncService) peekBackend() *Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// TestAvailability implements SyncService
func (s *DefaultSyncService) TestAvailability(ctx context.Context) *ConnectionResult {
	res := &ConnectionResult{TestedAt: s.now().UTC()}

	b, _, err := s.currentBackend()
	if err == nil {
		res.Location = b.Store.Location()
		err = b.Manager.TestAvailability(ctx)
	}

	if err != nil {
		code := syncerr.CodeOf(err)
		res.Message = err.Error()
		res.Error = &pkgsync.ErrorInfo{Code: code, Message: err.Error(), Remediation: syncerr.Remediation(code)}
		s.logger.Warn("Connection test failed", "error", err)
	} else {
		res.Valid = true
		res.Message = "Connection successful"
		s.logger.Info("Connection test succeeded", "remote", res.Location)
	}

	if rerr := s.configs.RecordConnection(res.Valid, res.Message); rerr != nil {
		s.logger.Error("Failed to record connection status", "error", rerr)
	}
	return res
}

// SyncNow implements SyncService
func (s *DefaultSyncService) SyncNow(ctx context.Context) *pkgsync.Result {
	return s.run(ctx, pkgsync.RunOptions{Trigger: pkgsync.TriggerManual})
}

// SyncWithMergeConfirmed implements SyncService
func (s *DefaultSyncService) SyncWithMergeConfirmed(ctx context.Context) *pkgsync.Result {
	return s.run(ctx, pkgsync.RunOptions{Trigger: pkgsync.TriggerConfirmed, Confirmed: true})
}

func (s *DefaultSyncService) run(ctx context.Context, opts pkgsync.RunOptions) *pkgsync.Result {
	if !s.configs.Get().Enabled {
		return pkgsync.FailedResult(opts.Trigger,
			syncerr.Wrap(syncerr.CodeConfiguration, ErrDisabled, "sync"), s.now())
	}
	b, _, err := s.currentBackend()
	if err != nil {
		return pkgsync.FailedResult(opts.Trigger, err, s.now())
	}
	return b.Manager.Run(ctx, opts)
}

// GetSyncStatus implements SyncService
func (s *DefaultSyncService) GetSyncStatus(ctx context.Context) (*Status, error) {
	st, err := s.stateSvc.GetSyncStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}
	cfg := s.configs.Get()

	out := &Status{
		SyncStatus:        *st,
		DeviceID:          s.device.DeviceID,
		Enabled:           cfg.Enabled,
		AutoSync:          cfg.Enabled && cfg.AutoSync,
		Provider:          cfg.Provider,
		ConnectionTested:  cfg.ConnectionTested,
		ConnectionValid:   cfg.ConnectionKnownValid(),
		ConnectionMessage: cfg.ConnectionMessage,
	}
	if b := s.peekBackend(); b != nil {
		out.Location = b.Store.Location()
		out.InProgress = b.Manager.InProgress()
	}
	return out, nil
}

// GetConfig implements SyncService
func (s *DefaultSyncService) GetConfig(_ context.Context) *config.Config {
	return redact(s.configs.Get())
}

// SetConfig implements SyncService
func (s *DefaultSyncService) SetConfig(ctx context.Context, cfg *config.Config) (*config.Config, error) {
	if cfg == nil {
		return nil, syncerr.New(syncerr.CodeConfiguration, "config cannot be nil")
	}
	if b := s.peekBackend(); b != nil && b.Manager.InProgress() {
		return nil, syncerr.New(syncerr.CodeInProgress, "cannot change the configuration while a sync is running")
	}

	prev := s.configs.Get()
	next := cfg.Clone()
	restoreSecrets(next, prev)
	saved, err := s.configs.Set(next)
	if err != nil {
		return nil, err
	}
	if !autoSyncOn(prev) && autoSyncOn(saved) {
		if err := s.clearSuspension(ctx); err != nil {
			return nil, err
		}
	}
	return redact(saved), nil
}

func autoSyncOn(cfg *config.Config) bool {
	return cfg != nil && cfg.Enabled && cfg.AutoSync
}

// clearSuspension lifts an automatic sync suspension after the user turned
// automatic sync back on.
func (s *DefaultSyncService) clearSuspension(ctx context.Context) error {
	if s.stateSvc == nil {
		return nil
	}
	cleared, err := s.stateSvc.UpdateStatusAtomically(ctx, func(st *status.SyncStatus) bool {
		if !st.AutoSyncSuspended && st.ConsecutiveFailures == 0 {
			return false
		}
		st.AutoSyncSuspended = false
		st.SuspendedReason = ""
		st.SuspendedConfigHash = ""
		st.ConsecutiveFailures = 0
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to clear the automatic sync suspension: %w", err)
	}
	if cleared {
		s.logger.Info("Automatic sync re-enabled, suspension cleared")
	}
	return nil
}

// CompareSnapshots implements SyncService
func (s *DefaultSyncService) CompareSnapshots(ctx context.Context) (*pkgsync.Preview, error) {
	b, _, err := s.currentBackend()
	if err != nil {
		return nil, err
	}
	return b.Manager.Compare(ctx)
}

// OpenSyncDirectory implements SyncService
func (s *DefaultSyncService) OpenSyncDirectory(_ context.Context) (string, error) {
	b, _, err := s.currentBackend()
	if err != nil {
		return "", err
	}
	target, err := desktop.Target(b.Store, b.Layout)
	if err != nil {
		return "", err
	}
	if err := s.opener.Open(target); err != nil {
		return "", fmt.Errorf("failed to open %s: %w", target, err)
	}
	return target, nil
}

// fingerprint identifies the settings a backend and its scheduler are built from
func fingerprint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return fmt.Sprintf("%s|%t|%t|%d|%s|%+v",
		cfg.ComputeConfigHash(), cfg.Enabled, cfg.AutoSync, cfg.SyncIntervalMinutes, cfg.DeviceName, cfg.Tuning)
}

func redact(cfg *config.Config) *config.Config {
	out := cfg.Clone()
	if out.WebDAV != nil && out.WebDAV.Password != "" {
		out.WebDAV.Password = RedactedSecret
	}
	if out.S3 != nil && out.S3.SecretAccessKey != "" {
		out.S3.SecretAccessKey = RedactedSecret
	}
	return out
}

func restoreSecrets(next, current *config.Config) {
	if next.WebDAV != nil && next.WebDAV.Password == RedactedSecret {
		next.WebDAV.Password = ""
		if current.WebDAV != nil {
			next.WebDAV.Password = current.WebDAV.Password
		}
	}
	if next.S3 != nil && next.S3.SecretAccessKey == RedactedSecret {
		next.S3.SecretAccessKey = ""
		if current.S3 != nil {
			next.S3.SecretAccessKey = current.S3.SecretAccessKey
		}
	}
}
