package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/promptsync/internal/status"
)

type fileStateService struct {
	statusPersistence status.StatusPersistence

	mu           sync.RWMutex
	cachedStatus *status.SyncStatus
}

// NewFileStateService creates a new file-based sync state service
func NewFileStateService(statusPersistence status.StatusPersistence) SyncStateService {
	return &fileStateService{
		statusPersistence: statusPersistence,
		cachedStatus:      &status.SyncStatus{Phase: status.SyncPhaseIdle},
	}
}

func (f *fileStateService) Initialize(ctx context.Context) error {
	syncStatus, err := f.statusPersistence.LoadStatus(ctx)
	if err != nil {
		slog.Warn("Failed to load sync status, initializing with defaults", "error", err)
		syncStatus = &status.SyncStatus{}
	}

	switch {
	case syncStatus.Phase == "" && syncStatus.LastSyncTime == nil:
		slog.Info("No previous sync status found, initializing with defaults")
		syncStatus.Phase = status.SyncPhaseIdle
		syncStatus.Message = "Never synced"
		if err := f.statusPersistence.SaveStatus(ctx, syncStatus); err != nil {
			slog.Warn("Failed to persist default sync status", "error", err)
		}
	case syncStatus.Phase == status.SyncPhaseSyncing:
		// The previous process stopped mid-run. Its remote lock expires on its own.
		slog.Warn("Previous sync was interrupted, resetting to Failed")
		syncStatus.Phase = status.SyncPhaseFailed
		syncStatus.Message = "Previous sync was interrupted"
		syncStatus.ConsecutiveFailures++
		if err := f.statusPersistence.SaveStatus(ctx, syncStatus); err != nil {
			slog.Warn("Failed to persist corrected sync status", "error", err)
		}
	}

	if syncStatus.LastSyncTime != nil {
		slog.Info("Loaded sync status",
			"phase", syncStatus.Phase,
			"last_sync", syncStatus.LastSyncTime.Format(time.RFC3339),
			"items", syncStatus.ItemCount,
			"consecutive_failures", syncStatus.ConsecutiveFailures)
	} else {
		slog.Info("Loaded sync status", "phase", syncStatus.Phase, "last_sync", "never")
	}

	f.mu.Lock()
	f.cachedStatus = syncStatus
	f.mu.Unlock()
	return nil
}

func (f *fileStateService) GetSyncStatus(_ context.Context) (*status.SyncStatus, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cachedStatus.Clone(), nil
}

func (f *fileStateService) UpdateStatusAtomically(
	ctx context.Context,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.cachedStatus.Clone()
	if !testAndUpdateFn(next) {
		return false, nil
	}
	if err := f.statusPersistence.SaveStatus(ctx, next); err != nil {
		return false, err
	}
	f.cachedStatus = next
	return true, nil
}
