package app

import (
	"github.com/stacklok/promptsync/internal/app/storage"
	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/service"
	"github.com/stacklok/promptsync/internal/sync/state"
	"github.com/stacklok/promptsync/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Configs owns the configuration file
	Configs *config.Manager

	// Storage created the local store and state service
	Storage storage.Factory

	// LocalStore holds the items being synchronized
	LocalStore localstore.LocalStore

	// StateService tracks the sync status
	StateService state.SyncStateService

	// Device identifies this installation
	Device model.DeviceInfo

	// SyncService provides the sync operations
	SyncService *service.DefaultSyncService

	// Telemetry holds the tracer and meter providers
	Telemetry *telemetry.Telemetry
}
