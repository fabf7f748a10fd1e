package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc is called after the active configuration changed.
type ChangeFunc func(previous, current *Config)

// Manager provides thread-safe access to the configuration file. Unlike a
// read-only deployment config, the sync settings are edited by the user through
// the API or CLI, so the manager both writes the file and observes external
// edits to it.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	lastWrite []byte

	listenersMu sync.Mutex
	listeners   []ChangeFunc

	watcher   *fsnotify.Watcher
	watcherMu sync.Mutex

	now func() time.Time
}

// ManagerOption allows customizing Manager behavior
type ManagerOption func(*Manager)

// WithClock overrides the clock used for connection test timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager loads the configuration at path. A missing file yields defaults.
func NewManager(path string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{path: path, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	cfg, err := LoadConfig(WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}
	m.config = cfg
	return m, nil
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// Get returns a copy of the active configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// OnChange registers fn to run after every configuration change.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Set validates and persists cfg. Changing any connection setting discards the
// cached connection test. Secrets of keyring-backed credentials are moved into
// the keyring and never written to the file.
func (m *Manager) Set(cfg *Config) (*Config, error) {
	next := cfg.Clone()
	next.applyDefaults()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	newSecret, err := moveSecretsToKeyring(next)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	previous := m.config
	if next.ComputeConfigHash() != previous.ComputeConfigHash() || newSecret {
		next.InvalidateConnection()
	} else {
		next.ConnectionStatus = previous.ConnectionStatus
	}
	if err := m.persistLocked(next); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.config = next
	m.mu.Unlock()

	slog.Info("Configuration updated", "path", m.path, "enabled", next.Enabled, "provider", next.Provider)
	m.notify(previous, next)
	return next.Clone(), nil
}

// RecordConnection stores the outcome of a connection test for the current
// settings.
func (m *Manager) RecordConnection(valid bool, message string) error {
	m.mu.Lock()
	previous := m.config
	next := previous.Clone()
	next.RecordConnection(valid, message, m.now().UTC())
	if err := m.persistLocked(next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.config = next
	m.mu.Unlock()

	m.notify(previous, next)
	return nil
}

// Reload reads the configuration file and applies it if valid. If the new
// configuration is invalid, the previous configuration remains active.
func (m *Manager) Reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	m.mu.Lock()
	if data != nil && bytes.Equal(data, m.lastWrite) {
		m.mu.Unlock()
		return nil
	}
	var next *Config
	if data == nil {
		next = Default()
	} else if next, err = Parse(data); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("invalid configuration: %w", err)
	}
	previous := m.config
	m.config = next
	m.mu.Unlock()

	slog.Info("Configuration reloaded", "path", m.path)
	m.notify(previous, next)
	return nil
}

// Watch observes the configuration file for external edits and reloads it.
// Blocks until the context is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	m.watcherMu.Lock()
	if m.watcher != nil {
		m.watcherMu.Unlock()
		return fmt.Errorf("config watcher is already running")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.watcherMu.Unlock()
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	m.watcher = watcher
	m.watcherMu.Unlock()

	// Watch the directory: the file may not exist yet and atomic saves replace it.
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	slog.Info("Started watching configuration file", "path", m.path)
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Stopping config file watcher due to context cancellation")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher event channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				slog.Debug("Config file changed, reloading", "op", event.Op.String())
				if err := m.Reload(); err != nil {
					slog.Error("Failed to reload config", "error", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			slog.Error("File watcher error", "error", err)
		}
	}
}

// Close releases the file watcher.
func (m *Manager) Close() error {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close file watcher: %w", err)
		}
		m.watcher = nil
	}
	return nil
}

func (m *Manager) persistLocked(cfg *Config) error {
	if err := Save(m.path, cfg); err != nil {
		return err
	}
	data, err := os.ReadFile(m.path)
	if err == nil {
		m.lastWrite = data
	}
	return nil
}

func (m *Manager) notify(previous, current *Config) {
	m.listenersMu.Lock()
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(previous.Clone(), current.Clone())
	}
}

// moveSecretsToKeyring reports whether a new secret was stored.
func moveSecretsToKeyring(cfg *Config) (bool, error) {
	moved := false
	if w := cfg.WebDAV; w != nil && w.UseKeyring && w.Password != "" {
		if err := StoreSecret(WebDAVKeyringUser(w), w.Password); err != nil {
			return false, err
		}
		w.Password = ""
		moved = true
	}
	if s := cfg.S3; s != nil && s.UseKeyring && s.SecretAccessKey != "" {
		if err := StoreSecret(S3KeyringUser(s), s.SecretAccessKey); err != nil {
			return false, err
		}
		s.SecretAccessKey = ""
		moved = true
	}
	return moved, nil
}
