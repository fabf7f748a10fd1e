package merge

import (
	"github.com/stacklok/promptsync/internal/model"
)

// ContentConflictThreshold is the number of true content conflicts above which a
// merge needs explicit confirmation.
const ContentConflictThreshold = 10

// Reasons a merge needs confirmation.
const (
	ReasonNoSyncHistory = "this device has never synced with the remote"
	ReasonForeignDevice = "the remote data was produced by another device"
	ReasonManyConflicts = "too many items were changed on both devices"
)

// MergeInfo summarizes a merge that is waiting for user confirmation.
type MergeInfo struct {
	LocalItemCount   int      `json:"localItemCount"`
	RemoteItemCount  int      `json:"remoteItemCount"`
	ConflictingItems int      `json:"conflictingItems"`
	ContentConflicts int      `json:"contentConflicts"`
	RemoteDeviceID   string   `json:"remoteDeviceId"`
	Reasons          []string `json:"reasons"`
}

// GateInput describes the state a confirmation decision is based on.
type GateInput struct {
	Local  *model.Snapshot
	Remote *model.Snapshot
	// LastSyncID is the sync id of the last successful run on this device.
	LastSyncID string
}

// Evaluate returns a MergeInfo when merging in.Local and in.Remote must not
// happen without user confirmation, and nil otherwise.
func Evaluate(in GateInput) *MergeInfo {
	if in.Remote.IsEmpty() {
		return nil
	}
	localItems := itemsOf(in.Local)
	local := index(localItems)
	remote := index(in.Remote.Items)

	info := &MergeInfo{
		LocalItemCount:   len(localItems),
		RemoteItemCount:  len(in.Remote.Items),
		ConflictingItems: countDiffering(local, remote),
		ContentConflicts: countContentConflicts(local, remote),
		RemoteDeviceID:   in.Remote.DeviceID,
		Reasons:          []string{},
	}

	noHistory := in.LastSyncID == ""
	if noHistory {
		info.Reasons = append(info.Reasons, ReasonNoSyncHistory)
	}
	if noHistory && in.Local != nil && in.Local.DeviceID != in.Remote.DeviceID {
		info.Reasons = append(info.Reasons, ReasonForeignDevice)
	}
	if info.ContentConflicts > ContentConflictThreshold {
		info.Reasons = append(info.Reasons, ReasonManyConflicts)
	}
	if len(info.Reasons) == 0 {
		return nil
	}
	return info
}

// countDiffering counts ids present on one side only or with different checksums.
func countDiffering(local, remote map[string]model.DataItem) int {
	n := 0
	for id, l := range local {
		r, ok := remote[id]
		if !ok || r.Metadata.Checksum != l.Metadata.Checksum {
			n++
		}
	}
	for id := range remote {
		if _, ok := local[id]; !ok {
			n++
		}
	}
	return n
}

// countContentConflicts counts items live on both sides with different content.
// Creations and deletions are not content conflicts.
func countContentConflicts(local, remote map[string]model.DataItem) int {
	n := 0
	for id, l := range local {
		r, ok := remote[id]
		if !ok || l.Metadata.Deleted || r.Metadata.Deleted {
			continue
		}
		if l.Metadata.Checksum != r.Metadata.Checksum {
			n++
		}
	}
	return n
}

func itemsOf(s *model.Snapshot) []model.DataItem {
	if s == nil {
		return nil
	}
	return s.Items
}
