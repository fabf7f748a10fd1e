// Package storage provides factory functions for creating storage-dependent components.
// It implements the Abstract Factory pattern so the local item store and the
// sync status are always created against the same state directory.
package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/sync/state"
)

const (
	// DatabaseFileName is the SQLite database created in the state directory
	DatabaseFileName = "promptsync.db"

	// InMemoryPath selects a store that lives only as long as the process
	InMemoryPath = ":memory:"
)

// Factory creates storage-dependent components as a family.
//
// The factory encapsulates the creation of:
// - LocalStore: the items being synchronized
// - SyncStateService: tracks sync status
//
// It also manages the lifecycle of storage resources (e.g., the database handle).
type Factory interface {
	// CreateLocalStore opens the local item store. Edits made through it are
	// attributed to deviceID.
	CreateLocalStore(ctx context.Context, deviceID string) (localstore.LocalStore, error)

	// CreateStateService creates an initialized state service for sync status tracking.
	CreateStateService(ctx context.Context) (state.SyncStateService, error)

	// Cleanup releases any resources held by this factory. Should be called
	// when the application shuts down.
	Cleanup()
}

// NewStorageFactory creates a storage factory for the configured local store.
// Returns a MemoryFactory when the store path is InMemoryPath and a SQLiteFactory otherwise.
func NewStorageFactory(cfg *config.Config, stateDir string) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if stateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}

	switch path := cfg.LocalStore.Path; path {
	case InMemoryPath:
		return NewMemoryFactory(stateDir)
	case "":
		return NewSQLiteFactory(filepath.Join(stateDir, DatabaseFileName), stateDir)
	default:
		return NewSQLiteFactory(path, stateDir)
	}
}
