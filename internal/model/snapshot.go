package model

import "time"

// SchemaVersion is the snapshot schema version written by this build.
const SchemaVersion = "1.0.0"

// Snapshot is a complete, checksummed enumeration of all items known to one device.
type Snapshot struct {
	Timestamp     time.Time        `json:"timestamp"`
	SchemaVersion string           `json:"schemaVersion"`
	DeviceID      string           `json:"deviceId"`
	Items         []DataItem       `json:"items"`
	Metadata      SnapshotMetadata `json:"metadata"`
}

// SnapshotMetadata describes a snapshot.
type SnapshotMetadata struct {
	TotalItems        int                  `json:"totalItems"`
	Checksum          string               `json:"checksum"`
	SyncID            string               `json:"syncId"`
	PreviousSyncID    string               `json:"previousSyncId,omitempty"`
	ConflictsResolved []ConflictResolution `json:"conflictsResolved"`
	DeviceInfo        DeviceInfo           `json:"deviceInfo"`
}

// DeviceInfo identifies the installation that produced a snapshot.
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName,omitempty"`
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
}

// IsEmpty reports whether the snapshot is nil or carries no items.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Items) == 0
}

// Index returns the snapshot items keyed by id.
func (s *Snapshot) Index() map[string]DataItem {
	if s == nil {
		return map[string]DataItem{}
	}
	out := make(map[string]DataItem, len(s.Items))
	for _, item := range s.Items {
		out[item.ID] = item
	}
	return out
}

// Strategy is the outcome chosen for a conflicting item.
type Strategy string

const (
	// StrategyLocalWins keeps the local version.
	StrategyLocalWins Strategy = "local_wins"
	// StrategyRemoteWins replaces local with the remote version.
	StrategyRemoteWins Strategy = "remote_wins"
	// StrategyMerge combines both versions.
	StrategyMerge Strategy = "merge"
	// StrategyCreateDuplicate keeps both versions as separate items.
	StrategyCreateDuplicate Strategy = "create_duplicate"
)

// ConflictResolution records how a conflicting item was resolved.
type ConflictResolution struct {
	ItemID    string    `json:"itemId"`
	Strategy  Strategy  `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}
