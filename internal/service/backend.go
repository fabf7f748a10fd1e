package service

import (
	"fmt"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/remote/factory"
	"github.com/stacklok/promptsync/internal/retry"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	"github.com/stacklok/promptsync/internal/sync/state"
)

// Backend is a sync manager bound to one remote store
type Backend struct {
	Manager pkgsync.Manager
	Store   remote.Store
	Layout  remote.Layout
}

// BackendFactory builds the backend for a configuration
type BackendFactory func(cfg *config.Config) (*Backend, error)

// NewBackendFactory returns a BackendFactory that binds the configured remote
// store and tunes the sync manager from the configuration. opts are applied
// after the configured tuning.
func NewBackendFactory(
	local localstore.Store,
	stateSvc state.SyncStateService,
	device model.DeviceInfo,
	opts ...pkgsync.Option,
) BackendFactory {
	return func(cfg *config.Config) (*Backend, error) {
		binding, err := factory.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create remote store: %w", err)
		}

		managerOpts := append([]pkgsync.Option{
			pkgsync.WithLockTTL(cfg.Tuning.LockTTL),
			pkgsync.WithTombstoneRetention(cfg.Tuning.TombstoneRetention),
			pkgsync.WithRequestTimeout(cfg.Tuning.RequestTimeout),
			pkgsync.WithRetryPolicy(retry.Policy{
				MaxRetries: cfg.Tuning.Retry.MaxRetries,
				BaseDelay:  cfg.Tuning.Retry.BaseDelay,
				MaxDelay:   cfg.Tuning.Retry.MaxDelay,
				Multiplier: cfg.Tuning.Retry.Multiplier,
			}),
			pkgsync.WithConfigHash(cfg.ComputeConfigHash()),
		}, opts...)

		if cfg.DeviceName != "" {
			device.DeviceName = cfg.DeviceName
		}
		return &Backend{
			Manager: pkgsync.NewDefaultSyncManager(binding.Store, binding.Layout, local, stateSvc, device, managerOpts...),
			Store:   binding.Store,
			Layout:  binding.Layout,
		}, nil
	}
}
