// Package state contains logic for managing the sync state which the engine persists.
package state

import (
	"context"

	"github.com/stacklok/promptsync/internal/status"
)

// SyncStateService provides methods for inspecting and updating the sync state of
// this device.
//
//go:generate mockgen -destination=mocks/mock_sync_state_service.go -package=mocks github.com/stacklok/promptsync/internal/sync/state SyncStateService
type SyncStateService interface {
	// Initialize loads the persisted state. A run left in the Syncing phase by
	// a crashed process is reported as failed.
	Initialize(ctx context.Context) error
	// GetSyncStatus returns a copy of the current sync status.
	GetSyncStatus(ctx context.Context) (*status.SyncStatus, error)
	// UpdateStatusAtomically is used to carry out atomic updates on the sync status.
	// The current state is passed to testAndUpdateFn and persisted if the
	// function reports that it mutated it, all as a single atomic action.
	UpdateStatusAtomically(ctx context.Context, testAndUpdateFn func(syncStatus *status.SyncStatus) bool) (bool, error)
}
