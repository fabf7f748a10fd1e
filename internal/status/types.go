package status

import "time"

// SyncPhase represents the current phase of a synchronization run
type SyncPhase string

const (
	// SyncPhaseIdle means no sync has run yet
	SyncPhaseIdle SyncPhase = "Idle"

	// SyncPhaseSyncing means sync is currently in progress
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means sync completed successfully
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhaseFailed means sync failed
	SyncPhaseFailed SyncPhase = "Failed"

	// SyncPhaseAwaitingConfirmation means the last run stopped before merging
	// and waits for the user to confirm
	SyncPhaseAwaitingConfirmation SyncPhase = "AwaitingConfirmation"
)

// SyncStatus is the persisted state of this device's synchronization
type SyncStatus struct {
	// Phase represents the current synchronization phase
	Phase SyncPhase `json:"phase"`

	// Message provides additional information about the sync status
	Message string `json:"message,omitempty"`

	// LastAttempt is the timestamp of the last sync attempt
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSyncTime is the timestamp of the last successful sync
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// LastSyncID is the syncId of the snapshot written or accepted by the last
	// successful sync. Empty means this device has no sync history.
	LastSyncID string `json:"lastSyncId,omitempty"`

	// LastSnapshotChecksum is the checksum of the last synced snapshot
	LastSnapshotChecksum string `json:"lastSnapshotChecksum,omitempty"`

	// ItemCount is the number of items in the last synced snapshot
	ItemCount int `json:"itemCount,omitempty"`

	// ConsecutiveFailures counts failed runs since the last success
	ConsecutiveFailures int `json:"consecutiveFailures,omitempty"`

	// AutoSyncSuspended stops automatic runs until a manual run succeeds or the
	// user re-enables automatic sync
	AutoSyncSuspended bool `json:"autoSyncSuspended,omitempty"`

	// SuspendedReason explains why automatic sync is suspended
	SuspendedReason string `json:"suspendedReason,omitempty"`

	// SuspendedConfigHash is the config hash that caused a configuration
	// suspension; a different hash lifts it
	SuspendedConfigHash string `json:"suspendedConfigHash,omitempty"`

	// LastResult summarizes the last finished run
	LastResult *ResultSummary `json:"lastResult,omitempty"`

	// PurgedTombstones maps ids of tombstones removed from snapshots to the time
	// they were purged
	PurgedTombstones map[string]time.Time `json:"purgedTombstones,omitempty"`
}

// ResultSummary is the persisted outcome of a sync run
type ResultSummary struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message,omitempty"`
	Trigger           string    `json:"trigger,omitempty"`
	Path              string    `json:"path,omitempty"`
	FinishedAt        time.Time `json:"finishedAt"`
	ItemsProcessed    int       `json:"itemsProcessed"`
	ItemsCreated      int       `json:"itemsCreated"`
	ItemsUpdated      int       `json:"itemsUpdated"`
	ItemsDeleted      int       `json:"itemsDeleted"`
	ConflictsResolved int       `json:"conflictsResolved"`
	ErrorCodes        []string  `json:"errorCodes,omitempty"`
}

// Clone returns a deep copy.
func (s *SyncStatus) Clone() *SyncStatus {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastAttempt != nil {
		t := *s.LastAttempt
		out.LastAttempt = &t
	}
	if s.LastSyncTime != nil {
		t := *s.LastSyncTime
		out.LastSyncTime = &t
	}
	if s.LastResult != nil {
		r := *s.LastResult
		r.ErrorCodes = append([]string(nil), s.LastResult.ErrorCodes...)
		out.LastResult = &r
	}
	if s.PurgedTombstones != nil {
		out.PurgedTombstones = make(map[string]time.Time, len(s.PurgedTombstones))
		for id, at := range s.PurgedTombstones {
			out.PurgedTombstones[id] = at
		}
	}
	return &out
}

// KnownTombstones returns the purged tombstone ids as a set.
func (s *SyncStatus) KnownTombstones() map[string]struct{} {
	out := make(map[string]struct{}, len(s.PurgedTombstones))
	for id := range s.PurgedTombstones {
		out[id] = struct{}{}
	}
	return out
}

// RecordPurged adds ids to the purged tombstone ledger and drops entries older
// than expiry.
func (s *SyncStatus) RecordPurged(ids []string, now time.Time, expiry time.Duration) {
	if s.PurgedTombstones == nil {
		s.PurgedTombstones = make(map[string]time.Time, len(ids))
	}
	for _, id := range ids {
		if _, ok := s.PurgedTombstones[id]; !ok {
			s.PurgedTombstones[id] = now
		}
	}
	for id, at := range s.PurgedTombstones {
		if expiry > 0 && now.Sub(at) > expiry {
			delete(s.PurgedTombstones, id)
		}
	}
}
