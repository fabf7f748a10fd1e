package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/status"
	"github.com/stacklok/promptsync/internal/sync/state"
)

// SQLiteFactory creates components backed by the embedded SQLite database and
// the status file in the state directory.
type SQLiteFactory struct {
	dbPath   string
	stateDir string

	statusPersistence status.StatusPersistence

	mu    sync.Mutex
	store *localstore.SQLiteStore
}

var _ Factory = (*SQLiteFactory)(nil)

// NewSQLiteFactory creates a new SQLite storage factory, ensuring the state
// directory exists.
func NewSQLiteFactory(dbPath, stateDir string) (*SQLiteFactory, error) {
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	slog.Info("Creating SQLite storage factory", "database", dbPath, "state_dir", stateDir)

	return &SQLiteFactory{
		dbPath:            dbPath,
		stateDir:          stateDir,
		statusPersistence: status.NewFileStatusPersistence(stateDir),
	}, nil
}

// CreateLocalStore opens the database once; later calls return the same store.
func (f *SQLiteFactory) CreateLocalStore(ctx context.Context, deviceID string) (localstore.LocalStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store != nil {
		return f.store, nil
	}
	slog.Debug("Opening local database", "path", f.dbPath)
	store, err := localstore.OpenSQLite(ctx, f.dbPath, deviceID)
	if err != nil {
		return nil, err
	}
	f.store = store
	return store, nil
}

// CreateStateService creates a file-based state service for sync status tracking.
func (f *SQLiteFactory) CreateStateService(ctx context.Context) (state.SyncStateService, error) {
	return newStateService(ctx, f.statusPersistence)
}

// Cleanup closes the database.
func (f *SQLiteFactory) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.store == nil {
		return
	}
	if err := f.store.Close(); err != nil {
		slog.Error("Failed to close local database", "error", err)
	}
	f.store = nil
}

func newStateService(ctx context.Context, persistence status.StatusPersistence) (state.SyncStateService, error) {
	svc := state.NewFileStateService(persistence)
	if err := svc.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize sync status: %w", err)
	}
	return svc, nil
}
