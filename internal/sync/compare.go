package sync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/snapshot"
	"github.com/stacklok/promptsync/internal/versions"
)

// Preview is a read-only comparison of the local and remote snapshots
type Preview struct {
	LocalItems     int    `json:"localItems"`
	RemoteItems    int    `json:"remoteItems"`
	RemoteExists   bool   `json:"remoteExists"`
	RemoteDeviceID string `json:"remoteDeviceId,omitempty"`
	RemoteSyncID   string `json:"remoteSyncId,omitempty"`

	// RemoteAppVersion is the version of the app that wrote the remote
	// snapshot; RemoteNewerApp is set when it is newer than this build.
	RemoteAppVersion string `json:"remoteAppVersion,omitempty"`
	RemoteNewerApp   bool   `json:"remoteNewerApp,omitempty"`

	// Confirmation is set when a sync would stop at the confirmation gate.
	Confirmation *merge.MergeInfo `json:"confirmation,omitempty"`

	Counts  map[merge.Action]int `json:"counts"`
	Entries []PreviewEntry       `json:"entries"`
}

// PreviewEntry is the planned action for one item. Unchanged items are only
// counted, not listed.
type PreviewEntry struct {
	ID       string         `json:"id"`
	Type     model.ItemType `json:"type"`
	Title    string         `json:"title,omitempty"`
	Action   merge.Action   `json:"action"`
	Strategy model.Strategy `json:"strategy,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Fields   []FieldDiff    `json:"fields,omitempty"`
}

// FieldDiff summarizes the text difference of one string content field
// between the local and remote versions of an item
type FieldDiff struct {
	Field      string `json:"field"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// Compare previews what a sync would do. It reads the remote snapshot without
// taking the lock and never writes to either side.
func (m *defaultSyncManager) Compare(ctx context.Context) (*Preview, error) {
	prior, err := m.stateSvc.GetSyncStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}
	local, err := m.builder.Build(ctx, prior.LastSyncID)
	if err != nil {
		return nil, fmt.Errorf("failed to build local snapshot: %w", err)
	}

	var data []byte
	if err := m.call(ctx, "read remote snapshot", func(ctx context.Context) error {
		var err error
		data, err = remote.ReadIfExists(ctx, m.store, m.layout.Snapshot())
		return err
	}); err != nil {
		return nil, err
	}

	preview := &Preview{
		LocalItems: len(local.Snapshot.Items),
		Counts:     map[merge.Action]int{},
		Entries:    []PreviewEntry{},
	}

	if data == nil {
		for _, item := range local.Snapshot.Items {
			preview.add(merge.Decision{
				ID: item.ID, Type: item.Type, Title: item.Title,
				Action: merge.ActionUpload, Reason: "no remote snapshot, initial upload",
			})
		}
		return preview, nil
	}

	remoteSnap, err := snapshot.Decode(data)
	if err != nil {
		return nil, err
	}
	preview.RemoteExists = true
	preview.RemoteItems = len(remoteSnap.Items)
	preview.RemoteDeviceID = remoteSnap.DeviceID
	preview.RemoteSyncID = remoteSnap.Metadata.SyncID
	preview.RemoteAppVersion = remoteSnap.Metadata.DeviceInfo.AppVersion
	preview.RemoteNewerApp = remoteSnap.Metadata.DeviceInfo.AppVersion != "" && m.device.AppVersion != "" &&
		versions.IsNewerVersion(remoteSnap.Metadata.DeviceInfo.AppVersion, m.device.AppVersion)
	preview.Confirmation = merge.Evaluate(merge.GateInput{
		Local:      local.Snapshot,
		Remote:     remoteSnap,
		LastSyncID: prior.LastSyncID,
	})

	result := m.engine.Merge(merge.Input{
		Local:           local.Snapshot.Items,
		Remote:          remoteSnap.Items,
		KnownTombstones: prior.KnownTombstones(),
	})
	for _, d := range result.Decisions {
		preview.add(d)
	}
	return preview, nil
}

func (p *Preview) add(d merge.Decision) {
	p.Counts[d.Action]++
	if d.Action == merge.ActionKeep {
		return
	}
	entry := PreviewEntry{
		ID:       d.ID,
		Type:     d.Type,
		Title:    d.Title,
		Action:   d.Action,
		Strategy: d.Strategy,
		Reason:   d.Reason,
	}
	if d.Local != nil && d.Remote != nil {
		entry.Fields = diffFields(d.Local.Content, d.Remote.Content)
	}
	p.Entries = append(p.Entries, entry)
}

// diffFields compares the string fields of two contents, local to remote
func diffFields(local, remote map[string]any) []FieldDiff {
	keys := make([]string, 0, len(local)+len(remote))
	for k := range local {
		keys = append(keys, k)
	}
	for k := range remote {
		if _, ok := local[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, strings.Compare)

	dmp := diffmatchpatch.New()
	var out []FieldDiff
	for _, k := range keys {
		l, lok := local[k].(string)
		r, rok := remote[k].(string)
		if (!lok && !rok) || l == r {
			continue
		}
		fd := FieldDiff{Field: k}
		diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(l, r, false))
		for _, diff := range diffs {
			n := len([]rune(diff.Text))
			switch diff.Type {
			case diffmatchpatch.DiffInsert:
				fd.Insertions += n
			case diffmatchpatch.DiffDelete:
				fd.Deletions += n
			case diffmatchpatch.DiffEqual:
			}
		}
		out = append(out, fd)
	}
	return out
}
