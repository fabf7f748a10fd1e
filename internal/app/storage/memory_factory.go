package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/status"
	"github.com/stacklok/promptsync/internal/sync/state"
)

// MemoryFactory keeps items in memory. The sync status is still persisted in
// the state directory so repeated runs keep their history.
type MemoryFactory struct {
	statusPersistence status.StatusPersistence

	mu    sync.Mutex
	store *localstore.MemoryStore
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a factory for an in-memory local store
func NewMemoryFactory(stateDir string) (*MemoryFactory, error) {
	if err := os.MkdirAll(stateDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	return &MemoryFactory{statusPersistence: status.NewFileStatusPersistence(stateDir)}, nil
}

// CreateLocalStore implements Factory
func (f *MemoryFactory) CreateLocalStore(_ context.Context, deviceID string) (localstore.LocalStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.store == nil {
		f.store = localstore.NewMemoryStore(deviceID)
	}
	return f.store, nil
}

// CreateStateService implements Factory
func (f *MemoryFactory) CreateStateService(ctx context.Context) (state.SyncStateService, error) {
	return newStateService(ctx, f.statusPersistence)
}

// Cleanup implements Factory
func (*MemoryFactory) Cleanup() {}
