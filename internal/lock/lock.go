// Package lock implements the advisory cross-device sync lock kept as a JSON file
// on the remote store. The remote offers no compare-and-swap, so exclusion is best
// effort: the lock is read back after writing and the TTL bounds how long a
// crashed holder can block other devices.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// DefaultTTL is the lifetime of a freshly written lock.
const DefaultTTL = 5 * time.Minute

// Manager acquires and releases the sync lock for one device.
type Manager struct {
	store    remote.Store
	path     string
	deviceID string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the clock used for lock timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a lock manager for the lock file of layout.
func NewManager(store remote.Store, layout remote.Layout, deviceID string, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		path:     layout.Lock(),
		deviceID: deviceID,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire takes the lock for ttl. An absent, unreadable or expired lock is
// replaced; a valid lock of this device is refreshed keeping its id; a valid
// lock of another device fails with *syncerr.LockHeldError.
func (m *Manager) Acquire(ctx context.Context, ttl time.Duration) (*model.SyncLock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()

	existing, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if existing.Valid(now) {
		if existing.DeviceID != m.deviceID {
			return nil, &syncerr.LockHeldError{Owner: existing.DeviceID, ExpiresAt: existing.ExpiresAt()}
		}
		id = existing.ID
		m.logger.Debug("Refreshing own sync lock", "lock_id", id)
	} else if existing != nil {
		m.logger.Info("Replacing expired sync lock",
			"owner", existing.DeviceID,
			"expired_at", existing.ExpiresAt().UTC().Format(time.RFC3339))
	}

	lock := &model.SyncLock{
		ID:        id,
		DeviceID:  m.deviceID,
		Timestamp: now.UnixMilli(),
		Type:      model.LockTypeSync,
		TTL:       ttl.Milliseconds(),
	}
	data, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lock: %w", err)
	}
	if err := m.store.Write(ctx, m.path, data); err != nil {
		return nil, err
	}

	// another device may have written between our read and write
	written, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	if written == nil || written.ID != lock.ID || written.DeviceID != m.deviceID {
		owner := ""
		expires := now
		if written != nil {
			owner = written.DeviceID
			expires = written.ExpiresAt()
		}
		return nil, &syncerr.LockHeldError{Owner: owner, ExpiresAt: expires}
	}

	m.logger.Debug("Acquired sync lock", "lock_id", lock.ID, "ttl", ttl)
	return lock, nil
}

// Release deletes the lock if it still belongs to held. Failures are logged and
// never returned: the TTL bounds the damage of a lock left behind.
func (m *Manager) Release(ctx context.Context, held *model.SyncLock) {
	if held == nil {
		return
	}
	current, err := m.Current(ctx)
	if err != nil {
		m.logger.Warn("Failed to read sync lock before release", "error", err)
		return
	}
	if current == nil || current.ID != held.ID || current.DeviceID != m.deviceID {
		m.logger.Warn("Sync lock no longer ours, leaving it in place", "lock_id", held.ID)
		return
	}
	if err := m.store.Delete(ctx, m.path); err != nil {
		m.logger.Warn("Failed to release sync lock", "lock_id", held.ID, "error", err)
		return
	}
	m.logger.Debug("Released sync lock", "lock_id", held.ID)
}

// Current returns the lock on the remote, or nil when there is none or it
// cannot be parsed.
func (m *Manager) Current(ctx context.Context) (*model.SyncLock, error) {
	data, err := remote.ReadIfExists(ctx, m.store, m.path)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var lock model.SyncLock
	if err := json.Unmarshal(data, &lock); err != nil || lock.DeviceID == "" {
		m.logger.Warn("Ignoring unreadable sync lock", "path", m.path)
		return nil, nil
	}
	return &lock, nil
}

// IsHeld reports whether err means another device holds the lock.
func IsHeld(err error) bool {
	return syncerr.Is(err, syncerr.CodeLockHeld)
}
