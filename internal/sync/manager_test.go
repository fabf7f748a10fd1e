package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/retry"
	"github.com/stacklok/promptsync/internal/snapshot"
	"github.com/stacklok/promptsync/internal/status"
	"github.com/stacklok/promptsync/internal/sync/state"
	"github.com/stacklok/promptsync/internal/syncerr"
)

const (
	localDevice  = "device-a"
	remoteDevice = "device-b"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var fastRetry = retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

type fixture struct {
	t      *testing.T
	remote *remote.MemoryStore
	local  *localstore.MemoryStore
	state  state.SyncStateService
	layout remote.Layout
	now    time.Time

	// remoteAppVersion is the app version recorded in seeded remote snapshots
	remoteAppVersion string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		remote: remote.NewMemoryStore(),
		local:  localstore.NewMemoryStore(localDevice),
		state:  state.NewFileStateService(status.NewFileStatusPersistence(t.TempDir())),
		layout: remote.NewLayout("PromptSync"),
		now:    base.Add(time.Hour),
	}
	require.NoError(t, f.state.Initialize(context.Background()))
	return f
}

func (f *fixture) manager(store remote.Store, opts ...Option) Manager {
	if store == nil {
		store = f.remote
	}
	opts = append([]Option{
		WithClock(func() time.Time { return f.now }),
		WithRetryPolicy(fastRetry),
		WithConfigHash("hash-1"),
	}, opts...)
	return NewDefaultSyncManager(store, f.layout, f.local, f.state,
		model.DeviceInfo{DeviceID: localDevice, Platform: "linux/amd64", AppVersion: "1.2.0"}, opts...)
}

func prompt(id, text string, updated int, mutate ...func(*model.DataItem)) model.DataItem {
	item := model.DataItem{
		ID:      id,
		Type:    model.TypePrompt,
		Title:   "Prompt " + id,
		Content: map[string]any{"content": text},
		Metadata: model.ItemMetadata{
			CreatedAt:      base,
			UpdatedAt:      base.Add(time.Duration(updated) * time.Second),
			Version:        1,
			DeviceID:       localDevice,
			LastModifiedBy: localDevice,
		},
	}
	for _, fn := range mutate {
		fn(&item)
	}
	return item
}

func (f *fixture) seedLocal(items ...model.DataItem) {
	f.t.Helper()
	require.NoError(f.t, f.local.UpsertMany(context.Background(), model.TypePrompt, items))
}

func (f *fixture) seedRemote(device, syncID string, items ...model.DataItem) {
	f.t.Helper()
	data, err := snapshot.Encode(&model.Snapshot{
		Timestamp:     base,
		SchemaVersion: model.SchemaVersion,
		DeviceID:      device,
		Items:         items,
		Metadata: model.SnapshotMetadata{
			TotalItems:        len(items),
			SyncID:            syncID,
			ConflictsResolved: []model.ConflictResolution{},
			DeviceInfo:        model.DeviceInfo{DeviceID: device, AppVersion: f.remoteAppVersion},
		},
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.remote.Write(context.Background(), f.layout.Snapshot(), data))
}

func (f *fixture) remoteSnapshot() *model.Snapshot {
	f.t.Helper()
	data, err := f.remote.Read(context.Background(), f.layout.Snapshot())
	require.NoError(f.t, err)
	snap, err := snapshot.Decode(data)
	require.NoError(f.t, err)
	return snap
}

func (f *fixture) setHistory(syncID string) {
	f.t.Helper()
	_, err := f.state.UpdateStatusAtomically(context.Background(), func(s *status.SyncStatus) bool {
		s.LastSyncID = syncID
		return true
	})
	require.NoError(f.t, err)
}

func (f *fixture) status() *status.SyncStatus {
	f.t.Helper()
	s, err := f.state.GetSyncStatus(context.Background())
	require.NoError(f.t, err)
	return s
}

func (f *fixture) lockPresent() bool {
	ok, err := f.remote.Exists(context.Background(), f.layout.Lock())
	require.NoError(f.t, err)
	return ok
}

func TestRun_InitialUploadWhenRemoteIsEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "Summarize the text", 10))

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, PathInitialUpload, res.Path)
	assert.Equal(t, 1, res.ItemsCreated)

	snap := f.remoteSnapshot()
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "p1", snap.Items[0].ID)
	assert.Equal(t, localDevice, snap.DeviceID)
	assert.True(t, f.remote.HasPrefix("PromptSync/backup-"), "initial upload writes a backup")
	assert.False(t, f.lockPresent(), "lock is released")

	st := f.status()
	assert.Equal(t, status.SyncPhaseComplete, st.Phase)
	assert.Equal(t, snap.Metadata.SyncID, st.LastSyncID)
	assert.Equal(t, 1, st.ItemCount)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, "initial_upload", st.LastResult.Path)
}

func TestRun_NewerRemoteItemReplacesLocal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "old text", 10))
	f.seedRemote(remoteDevice, "remote-sync-1", prompt("p1", "new text", 20, func(i *model.DataItem) {
		i.Metadata.LastModifiedBy = remoteDevice
	}))
	f.setHistory("previous-sync")

	var events []localstore.ChangeEvent
	unsubscribe := f.local.Subscribe(func(ev localstore.ChangeEvent) { events = append(events, ev) })
	defer unsubscribe()

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, PathMerge, res.Path)
	assert.Equal(t, 1, res.ItemsUpdated)
	assert.Equal(t, 0, res.ItemsCreated)
	assert.Equal(t, 1, res.ConflictsResolved)
	require.Len(t, res.Phases, 3)
	assert.Equal(t, StateUpload, res.Phases[0].Name)
	assert.Equal(t, StateDeleteRemote, res.Phases[1].Name)
	assert.Equal(t, StateDownloadMerge, res.Phases[2].Name)

	got, err := f.local.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "new text", got.Content["content"])
	assert.Empty(t, events, "sync writes do not notify change listeners")

	snap := f.remoteSnapshot()
	assert.Equal(t, "remote-sync-1", snap.Metadata.PreviousSyncID)
	assert.Equal(t, localDevice, snap.DeviceID)
	require.Len(t, snap.Metadata.ConflictsResolved, 1)
	assert.Equal(t, model.StrategyRemoteWins, snap.Metadata.ConflictsResolved[0].Strategy)
	assert.False(t, f.lockPresent())
}

func TestRun_ConfirmationGate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	items := make([]model.DataItem, 0, 12)
	for i := 1; i <= 12; i++ {
		items = append(items, prompt(fmt.Sprintf("p%02d", i), "remote text", i))
	}
	f.seedRemote(remoteDevice, "remote-sync-1", items...)
	mgr := f.manager(nil)

	res := mgr.Run(context.Background(), RunOptions{Trigger: TriggerManual})

	assert.False(t, res.Success)
	assert.True(t, res.NeedsConfirmation)
	assert.Equal(t, PathNeedsConfirmation, res.Path)
	require.NotNil(t, res.MergeInfo)
	assert.Equal(t, 12, res.MergeInfo.ConflictingItems)
	assert.Equal(t, 12, res.MergeInfo.RemoteItemCount)
	assert.Contains(t, res.MergeInfo.Reasons, merge.ReasonNoSyncHistory)
	assert.Contains(t, res.MergeInfo.Reasons, merge.ReasonForeignDevice)

	local, err := f.local.ListAll(context.Background(), model.TypePrompt)
	require.NoError(t, err)
	assert.Empty(t, local, "no local mutation before confirmation")
	assert.Equal(t, "remote-sync-1", f.remoteSnapshot().Metadata.SyncID)
	assert.False(t, f.lockPresent())

	st := f.status()
	assert.Equal(t, status.SyncPhaseAwaitingConfirmation, st.Phase)
	assert.Zero(t, st.ConsecutiveFailures)

	confirmed := mgr.Run(context.Background(), RunOptions{Confirmed: true})
	require.True(t, confirmed.Success, confirmed.Message)
	assert.Equal(t, TriggerConfirmed, confirmed.Trigger)
	assert.Equal(t, 12, confirmed.ItemsCreated)

	local, err = f.local.ListAll(context.Background(), model.TypePrompt)
	require.NoError(t, err)
	assert.Len(t, local, 12)
	assert.Equal(t, status.SyncPhaseComplete, f.status().Phase)
}

func TestRun_UnchangedRemoteIsNotRewritten(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p1 := prompt("p1", "same", 10)
	f.seedLocal(p1)
	f.seedRemote(remoteDevice, "remote-sync-1", p1)
	f.setHistory("remote-sync-1")

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerInterval})

	require.True(t, res.Success, res.Message)
	assert.Zero(t, res.ItemsCreated+res.ItemsUpdated+res.ItemsDeleted+res.ConflictsResolved)
	assert.Equal(t, "remote-sync-1", f.remoteSnapshot().Metadata.SyncID)
	assert.Equal(t, "remote-sync-1", f.status().LastSyncID)
}

func TestRun_LocalChangesAreUploaded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(
		prompt("p1", "edited here", 30),
		prompt("p2", "created here", 5),
		prompt("p3", "deleted here", 40, func(i *model.DataItem) { i.Metadata.Deleted = true }),
	)
	f.seedRemote(remoteDevice, "remote-sync-1",
		prompt("p1", "original", 10),
		prompt("p3", "deleted here", 10),
	)
	f.setHistory("remote-sync-1")

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerDebounce})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, res.ItemsUploaded, "newer edits, new items and newer tombstones")
	assert.Equal(t, 1, res.ItemsDeleted)

	remoteItems := f.remoteSnapshot().Index()
	assert.Equal(t, "edited here", remoteItems["p1"].Content["content"])
	assert.Contains(t, remoteItems, "p2")
	assert.True(t, remoteItems["p3"].Metadata.Deleted, "tombstones propagate")
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	blocking := &blockingStore{
		MemoryStore: f.remote,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	mgr := f.manager(blocking)

	done := make(chan *Result, 1)
	go func() {
		done <- mgr.Run(context.Background(), RunOptions{Trigger: TriggerInterval})
	}()

	select {
	case <-blocking.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the remote")
	}
	assert.True(t, mgr.InProgress())

	second := mgr.Run(context.Background(), RunOptions{Trigger: TriggerManual})
	assert.False(t, second.Success)
	require.Len(t, second.Errors, 1)
	assert.Equal(t, syncerr.CodeInProgress, second.Errors[0].Code)

	close(blocking.release)
	first := <-done
	assert.True(t, first.Success, first.Message)
	assert.False(t, mgr.InProgress())
}

func TestRun_LockHeldByAnotherDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "text", 10))
	foreign, err := json.Marshal(model.SyncLock{
		ID:        "foreign-lock",
		DeviceID:  remoteDevice,
		Timestamp: f.now.Add(-time.Minute).UnixMilli(),
		Type:      model.LockTypeSync,
		TTL:       (5 * time.Minute).Milliseconds(),
	})
	require.NoError(t, err)
	require.NoError(t, f.remote.Write(context.Background(), f.layout.Lock(), foreign))

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerInterval})

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, syncerr.CodeLockHeld, res.Errors[0].Code)
	assert.NotEmpty(t, res.Errors[0].Remediation)

	data, err := f.remote.Read(context.Background(), f.layout.Lock())
	require.NoError(t, err)
	assert.JSONEq(t, string(foreign), string(data), "a foreign lock is never released")
	exists, err := f.remote.Exists(context.Background(), f.layout.Snapshot())
	require.NoError(t, err)
	assert.False(t, exists, "no side effects before the lock is acquired")

	st := f.status()
	assert.Equal(t, status.SyncPhaseFailed, st.Phase)
	assert.Zero(t, st.ConsecutiveFailures)
}

func TestRun_ReleasesLockWhenWriteFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "text", 10))
	store := &failingWriteStore{
		MemoryStore: f.remote,
		path:        f.layout.Snapshot(),
		err:         syncerr.New(syncerr.CodePermission, "403 Forbidden"),
	}

	res := f.manager(store).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, syncerr.CodePermission, res.Errors[0].Code)
	assert.False(t, f.lockPresent(), "lock is released on failure")

	st := f.status()
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.True(t, st.AutoSyncSuspended)
	assert.Equal(t, SuspendedPermission, st.SuspendedReason)
	assert.Equal(t, "hash-1", st.SuspendedConfigHash)
}

func TestRun_SuspendsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "text", 10))
	mgr := f.manager(nil)

	f.remote.SetFailure(syncerr.New(syncerr.CodeNetwork, "connection reset"))
	for i := 1; i <= MaxConsecutiveFailures; i++ {
		res := mgr.Run(context.Background(), RunOptions{Trigger: TriggerInterval})
		require.False(t, res.Success)
		assert.Equal(t, syncerr.CodeNetwork, res.Errors[0].Code)
		assert.Equal(t, i, f.status().ConsecutiveFailures)
		assert.Equal(t, i >= MaxConsecutiveFailures, f.status().AutoSyncSuspended)
	}
	assert.Equal(t, SuspendedTooManyFailures, f.status().SuspendedReason)

	f.remote.SetFailure(nil)
	res := mgr.Run(context.Background(), RunOptions{Trigger: TriggerManual})
	require.True(t, res.Success, res.Message)

	st := f.status()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.False(t, st.AutoSyncSuspended)
	assert.Empty(t, st.SuspendedReason)
}

func TestRun_CorruptRemoteSnapshotIsReplaced(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "text", 10))
	require.NoError(t, f.remote.Write(context.Background(), f.layout.Snapshot(), []byte("{not json")))

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, PathInitialUpload, res.Path)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, syncerr.CodeData, res.Warnings[0].Code)
	assert.True(t, f.remote.HasPrefix("PromptSync/corrupt-snapshot-"))
	assert.Len(t, f.remoteSnapshot().Items, 1)
}

func TestRun_NewerSchemaIsNotOverwritten(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("p1", "text", 10))
	future := []byte(`{"timestamp":"2030-01-01T00:00:00Z","schemaVersion":"2.0.0","deviceId":"device-b",` +
		`"items":[],"metadata":{"syncId":"future"}}`)
	require.NoError(t, f.remote.Write(context.Background(), f.layout.Snapshot(), future))

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	assert.False(t, res.Success)
	assert.Equal(t, syncerr.CodeData, res.Errors[0].Code)
	data, err := f.remote.Read(context.Background(), f.layout.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, future, data)
	assert.False(t, f.lockPresent())
}

func TestRun_ExpiredTombstonesArePurged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(
		prompt("live", "text", 10),
		prompt("gone", "text", 0, func(i *model.DataItem) {
			i.Metadata.Deleted = true
			i.Metadata.UpdatedAt = f.now.Add(-40 * 24 * time.Hour)
		}),
	)

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})
	require.True(t, res.Success, res.Message)

	assert.NotContains(t, f.remoteSnapshot().Index(), "gone")
	got, err := f.local.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, got, "expired tombstone is purged locally")
	assert.Contains(t, f.status().PurgedTombstones, "gone")
}

func TestRun_PurgedIDsAreNotDownloadedAgain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedLocal(prompt("keep", "text", 10))
	f.seedRemote(remoteDevice, "remote-sync-1",
		prompt("keep", "text", 10),
		prompt("gone", "stale copy", 5),
	)
	_, err := f.state.UpdateStatusAtomically(context.Background(), func(s *status.SyncStatus) bool {
		s.LastSyncID = "remote-sync-1"
		s.PurgedTombstones = map[string]time.Time{"gone": f.now.Add(-time.Hour)}
		return true
	})
	require.NoError(t, err)

	res := f.manager(nil).Run(context.Background(), RunOptions{Trigger: TriggerManual})

	require.True(t, res.Success, res.Message)
	assert.Equal(t, 1, res.ItemsDeleted)
	assert.Zero(t, res.ItemsCreated)
	got, err := f.local.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotContains(t, f.remoteSnapshot().Index(), "gone")
}

func TestCompare(t *testing.T) {
	t.Parallel()

	t.Run("without remote every item is uploaded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seedLocal(prompt("p1", "a", 1), prompt("p2", "b", 2))

		preview, err := f.manager(nil).Compare(context.Background())
		require.NoError(t, err)
		assert.False(t, preview.RemoteExists)
		assert.Equal(t, 2, preview.Counts[merge.ActionUpload])
		assert.Len(t, preview.Entries, 2)
	})

	t.Run("lists planned actions with text diffs", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.seedLocal(prompt("p1", "Hello world", 10), prompt("p3", "same", 1))
		f.seedRemote(remoteDevice, "remote-sync-1",
			prompt("p1", "Hello brave world", 20),
			prompt("p2", "remote only", 5),
			prompt("p3", "same", 1),
		)
		f.setHistory("remote-sync-1")

		preview, err := f.manager(nil).Compare(context.Background())
		require.NoError(t, err)
		assert.True(t, preview.RemoteExists)
		assert.Nil(t, preview.Confirmation)
		assert.Equal(t, 1, preview.Counts[merge.ActionUpdate])
		assert.Equal(t, 1, preview.Counts[merge.ActionCreate])
		assert.Equal(t, 1, preview.Counts[merge.ActionKeep])
		require.Len(t, preview.Entries, 2)

		byID := map[string]PreviewEntry{}
		for _, e := range preview.Entries {
			byID[e.ID] = e
		}
		require.Len(t, byID["p1"].Fields, 1)
		assert.Equal(t, FieldDiff{Field: "content", Insertions: 6}, byID["p1"].Fields[0])

		got, err := f.local.Get(context.Background(), "p2")
		require.NoError(t, err)
		assert.Nil(t, got, "compare never writes")
	})

	t.Run("flags a remote written by a newer version", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.remoteAppVersion = "1.10.0"
		f.seedRemote(remoteDevice, "remote-sync-1", prompt("p1", "a", 1))

		preview, err := f.manager(nil).Compare(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1.10.0", preview.RemoteAppVersion)
		assert.True(t, preview.RemoteNewerApp)
	})

	t.Run("older remote version is not flagged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.remoteAppVersion = "1.1.9"
		f.seedRemote(remoteDevice, "remote-sync-1", prompt("p1", "a", 1))

		preview, err := f.manager(nil).Compare(context.Background())
		require.NoError(t, err)
		assert.False(t, preview.RemoteNewerApp)
	})
}

func TestTestAvailabilityCreatesLockDir(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	mgr := f.manager(nil)
	require.NoError(t, mgr.TestAvailability(context.Background()))
	assert.True(t, f.remote.HasPrefix("PromptSync/locks"))

	f.remote.SetFailure(syncerr.New(syncerr.CodePermission, "401 Unauthorized"))
	err := mgr.TestAvailability(context.Background())
	require.Error(t, err)
	assert.Equal(t, syncerr.CodePermission, syncerr.CodeOf(err))
}

// blockingStore parks the first availability check until release is closed
type blockingStore struct {
	*remote.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Exists(ctx context.Context, p string) (bool, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.MemoryStore.Exists(ctx, p)
}

// failingWriteStore fails writes to one path
type failingWriteStore struct {
	*remote.MemoryStore
	path string
	err  error
}

func (s *failingWriteStore) Write(ctx context.Context, p string, data []byte) error {
	if p == s.path {
		return s.err
	}
	return s.MemoryStore.Write(ctx, p, data)
}
