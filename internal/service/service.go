// Package service provides the sync operations exposed to the CLI and the local
// control API.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/stacklok/promptsync/internal/config"
	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
)

var (
	// ErrNotConfigured is returned when no remote store is configured
	ErrNotConfigured = errors.New("no remote store is configured")
	// ErrDisabled is returned when a sync is requested while sync is disabled
	ErrDisabled = errors.New("sync is disabled")
)

// RedactedSecret replaces secrets in configurations returned to clients. A
// configuration set with this value keeps the stored secret.
const RedactedSecret = "********"

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go SyncService

// SyncService defines the user-facing sync operations
type SyncService interface {
	// TestAvailability checks the configured remote and caches the outcome in
	// the configuration
	TestAvailability(ctx context.Context) *ConnectionResult

	// SyncNow runs a sync, stopping before any write if the merge needs confirmation
	SyncNow(ctx context.Context) *pkgsync.Result

	// SyncWithMergeConfirmed runs a sync that merges unconditionally
	SyncWithMergeConfirmed(ctx context.Context) *pkgsync.Result

	// GetSyncStatus returns the persisted sync status with configuration context
	GetSyncStatus(ctx context.Context) (*Status, error)

	// GetConfig returns the configuration with secrets redacted
	GetConfig(ctx context.Context) *config.Config

	// SetConfig validates, persists and applies a new configuration
	SetConfig(ctx context.Context, cfg *config.Config) (*config.Config, error)

	// CompareSnapshots previews what a sync would do
	CompareSnapshots(ctx context.Context) (*pkgsync.Preview, error)

	// OpenSyncDirectory opens the sync directory and returns what was opened
	OpenSyncDirectory(ctx context.Context) (string, error)
}

// Status is the sync status as shown to the user
type Status struct {
	status.SyncStatus

	DeviceID          string          `json:"deviceId"`
	Enabled           bool            `json:"enabled"`
	AutoSync          bool            `json:"autoSync"`
	Provider          config.Provider `json:"provider,omitempty"`
	Location          string          `json:"location,omitempty"`
	InProgress        bool            `json:"inProgress"`
	ConnectionTested  bool            `json:"connectionTested"`
	ConnectionValid   bool            `json:"connectionValid"`
	ConnectionMessage string          `json:"connectionMessage,omitempty"`
}

// ConnectionResult is the outcome of a connection test
type ConnectionResult struct {
	Valid    bool               `json:"valid"`
	Message  string             `json:"message"`
	Location string             `json:"location,omitempty"`
	TestedAt time.Time          `json:"testedAt"`
	Error    *pkgsync.ErrorInfo `json:"error,omitempty"`
}
