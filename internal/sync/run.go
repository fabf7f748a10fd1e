package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/promptsync/internal/localstore"
	"github.com/stacklok/promptsync/internal/lock"
	"github.com/stacklok/promptsync/internal/merge"
	"github.com/stacklok/promptsync/internal/model"
	"github.com/stacklok/promptsync/internal/otel"
	"github.com/stacklok/promptsync/internal/remote"
	"github.com/stacklok/promptsync/internal/snapshot"
	"github.com/stacklok/promptsync/internal/status"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// run carries the state of one sync cycle
type run struct {
	m      *defaultSyncManager
	opts   RunOptions
	res    *Result
	logger *slog.Logger

	prior *status.SyncStatus
	held  *model.SyncLock

	local   *snapshot.Local
	remote  *model.Snapshot
	expired []string
	// synced is the snapshot both sides agree on once the run succeeds
	synced *model.Snapshot
	merged *merge.Result
}

func (m *defaultSyncManager) newRun(opts RunOptions) *run {
	return &run{
		m:      m,
		opts:   opts,
		res:    &Result{Trigger: opts.Trigger, StartedAt: m.now()},
		logger: m.logger.With("trigger", string(opts.Trigger)),
	}
}

func (r *run) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, r.m.tracer, name,
		trace.WithAttributes(otel.AttrTrigger.String(string(r.opts.Trigger))))
}

// step runs fn as state s in its own span
func (r *run) step(ctx context.Context, s State, fn func(context.Context) error) error {
	ctx, span := otel.StartSpan(ctx, r.m.tracer, "sync."+string(s),
		trace.WithAttributes(otel.AttrSyncState.String(string(s))))
	defer span.End()

	r.logger.Debug("Entering sync state", "state", s)
	err := fn(ctx)
	otel.RecordError(span, err)
	return err
}

func (r *run) execute(ctx context.Context) error {
	prior, err := r.m.stateSvc.GetSyncStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync status: %w", err)
	}
	r.prior = prior

	if err := r.step(ctx, StateTestingAvailability, r.testAvailability); err != nil {
		return err
	}
	if err := r.step(ctx, StateAcquiringLock, r.acquireLock); err != nil {
		return err
	}
	defer r.releaseLock(ctx)

	if err := r.step(ctx, StateSnapshotLocal, r.snapshotLocal); err != nil {
		return err
	}
	if err := r.step(ctx, StateFetchRemote, r.fetchRemote); err != nil {
		return err
	}

	if r.remote == nil {
		return r.step(ctx, StateInitialUpload, r.initialUpload)
	}

	if !r.opts.Confirmed {
		info := merge.Evaluate(merge.GateInput{
			Local:      r.local.Snapshot,
			Remote:     r.remote,
			LastSyncID: r.prior.LastSyncID,
		})
		if info != nil {
			return r.step(ctx, StateNeedsConfirmation, func(context.Context) error {
				r.res.Path = PathNeedsConfirmation
				r.res.NeedsConfirmation = true
				r.res.MergeInfo = info
				r.logger.Info("Merge needs confirmation",
					"conflicting_items", info.ConflictingItems,
					"content_conflicts", info.ContentConflicts,
					"reasons", info.Reasons)
				return nil
			})
		}
	}

	return r.mergeAndPersist(ctx)
}

func (r *run) testAvailability(ctx context.Context) error {
	return r.m.TestAvailability(ctx)
}

func (r *run) acquireLock(ctx context.Context) error {
	return r.m.call(ctx, "acquire sync lock", func(ctx context.Context) error {
		held, err := r.m.locks.Acquire(ctx, r.m.lockTTL)
		if err != nil {
			return err
		}
		r.held = held
		return nil
	})
}

// releaseLock always runs once the lock was acquired. It must not be skipped
// because ctx was cancelled, so it runs on a detached context.
func (r *run) releaseLock(ctx context.Context) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.m.requestTimeoutOrDefault())
	defer cancel()
	_ = r.step(relCtx, StateReleaseLock, func(ctx context.Context) error {
		r.m.locks.Release(ctx, r.held)
		return nil
	})
}

func (r *run) snapshotLocal(ctx context.Context) error {
	local, err := r.m.builder.Build(ctx, r.prior.LastSyncID)
	if err != nil {
		return fmt.Errorf("failed to build local snapshot: %w", err)
	}
	r.local = local
	r.addExpired(local.ExpiredTombstones)
	r.res.SyncID = local.Snapshot.Metadata.SyncID
	return nil
}

func (r *run) fetchRemote(ctx context.Context) error {
	path := r.m.layout.Snapshot()
	var data []byte
	err := r.m.call(ctx, "read remote snapshot", func(ctx context.Context) error {
		var err error
		data, err = remote.ReadIfExists(ctx, r.m.store, path)
		return err
	})
	if err != nil {
		return err
	}
	if data == nil {
		r.logger.Info("No remote snapshot found", "path", path)
		return nil
	}

	if peek, err := snapshot.PeekHeader(data); err == nil && snapshot.NewerMajor(peek.SchemaVersion) {
		return syncerr.New(syncerr.CodeData,
			"remote snapshot was written with schema %s by a newer release; update this device before syncing",
			peek.SchemaVersion)
	}

	snap, err := snapshot.Decode(data)
	if err == nil {
		r.remote = snap
		r.logger.Debug("Fetched remote snapshot",
			"remote_device", snap.DeviceID,
			"remote_sync_id", snap.Metadata.SyncID,
			"items", len(snap.Items))
		return nil
	}
	if !syncerr.Is(err, syncerr.CodeData) {
		return err
	}

	// unusable snapshot: keep a copy for inspection and start over
	r.res.warn(err)
	corrupt := r.m.layout.Corrupt(r.m.now().UnixMilli())
	r.logger.Warn("Remote snapshot is unusable, replacing it with an initial upload",
		"error", err, "preserved_as", corrupt)
	if werr := r.m.call(ctx, "preserve corrupt snapshot", func(ctx context.Context) error {
		return r.m.store.Write(ctx, corrupt, data)
	}); werr != nil {
		r.logger.Warn("Failed to preserve corrupt remote snapshot", "path", corrupt, "error", werr)
	}
	return nil
}

func (r *run) initialUpload(ctx context.Context) error {
	r.res.Path = PathInitialUpload
	snap := r.local.Snapshot

	if err := r.writeSnapshot(ctx, snap); err != nil {
		return err
	}

	backup := r.m.layout.Backup(r.m.now().UnixMilli())
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	if err := r.m.call(ctx, "write backup", func(ctx context.Context) error {
		return r.m.store.Write(ctx, backup, data)
	}); err != nil {
		r.res.warn(fmt.Errorf("failed to write backup %s: %w", backup, err))
		r.logger.Warn("Failed to write initial backup", "path", backup, "error", err)
	}

	r.res.ItemsProcessed = len(snap.Items)
	r.res.ItemsCreated = len(snap.Items)
	r.synced = snap
	r.logger.Info("Initial upload complete", "items", len(snap.Items), "backup", backup)
	return nil
}

// mergeAndPersist runs the three merge phases, applies local changes and
// rewrites the remote snapshot when anything changed.
func (r *run) mergeAndPersist(ctx context.Context) error {
	r.res.Path = PathMerge
	localItems := r.local.Snapshot.Items
	remoteItems := r.remote.Items
	known := r.prior.KnownTombstones()

	var uploads, deletes []string
	if err := r.step(ctx, StateUpload, func(context.Context) error {
		uploads = merge.UploadCandidates(localItems, remoteItems)
		r.res.Phases = append(r.res.Phases, PhaseReport{Name: StateUpload, Completed: true, Count: len(uploads)})
		return nil
	}); err != nil {
		return err
	}
	if err := r.step(ctx, StateDeleteRemote, func(context.Context) error {
		deletes = merge.DeleteCandidates(localItems, remoteItems, known)
		r.res.Phases = append(r.res.Phases, PhaseReport{Name: StateDeleteRemote, Completed: true, Count: len(deletes)})
		return nil
	}); err != nil {
		return err
	}
	if err := r.step(ctx, StateDownloadMerge, func(context.Context) error {
		r.merged = r.m.engine.Merge(merge.Input{
			Local:           localItems,
			Remote:          remoteItems,
			KnownTombstones: known,
		})
		report := PhaseReport{Name: StateDownloadMerge, Completed: true, Count: len(r.merged.LocalChanges)}
		for _, ie := range r.merged.Errors {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", ie.ID, ie.Err))
		}
		r.res.Phases = append(r.res.Phases, report)
		return nil
	}); err != nil {
		return err
	}

	mr := r.merged
	r.res.ItemsProcessed = mr.Processed()
	r.res.ItemsCreated = mr.Created
	r.res.ItemsUpdated = mr.Updated + mr.Restored + mr.Merged
	r.res.ItemsDeleted = mr.Deleted + len(deletes)
	r.res.ItemsUploaded = len(uploads)
	r.res.ConflictsResolved = len(mr.Conflicts)

	if err := r.step(ctx, StateApplyLocalChanges, r.applyLocalChanges); err != nil {
		return err
	}

	if len(uploads)+len(deletes)+len(mr.LocalChanges)+len(mr.Conflicts) == 0 {
		r.synced = r.remote
		r.res.SyncID = r.remote.Metadata.SyncID
		r.logger.Info("Local and remote are in sync, remote snapshot left unchanged")
		return nil
	}

	return r.step(ctx, StatePersistRemoteSnapshot, func(ctx context.Context) error {
		rebuilt, err := r.m.builder.Build(ctx, r.remote.Metadata.SyncID)
		if err != nil {
			return fmt.Errorf("failed to rebuild local snapshot: %w", err)
		}
		r.addExpired(rebuilt.ExpiredTombstones)
		snap := rebuilt.Snapshot
		snap.Metadata.ConflictsResolved = append([]model.ConflictResolution{}, mr.Conflicts...)
		if err := r.writeSnapshot(ctx, snap); err != nil {
			return err
		}
		r.synced = snap
		r.res.SyncID = snap.Metadata.SyncID
		return nil
	})
}

// applyLocalChanges writes merge results through the regular store write path,
// marked as sync-originated so they do not schedule another run.
func (r *run) applyLocalChanges(ctx context.Context) error {
	changes := r.merged.LocalChanges
	if len(changes) == 0 {
		return nil
	}

	byType := make(map[model.ItemType][]model.DataItem)
	for _, item := range changes {
		byType[item.Type] = append(byType[item.Type], item)
	}

	writeCtx := localstore.WithSyncOrigin(ctx)
	for _, itemType := range slices.Sorted(maps.Keys(byType)) {
		items := byType[itemType]
		if err := r.m.local.UpsertMany(writeCtx, itemType, items); err != nil {
			return fmt.Errorf("failed to apply %d %s changes locally: %w", len(items), itemType, err)
		}
	}
	r.logger.Info("Applied remote changes locally", "items", len(changes))
	return nil
}

func (r *run) writeSnapshot(ctx context.Context, snap *model.Snapshot) error {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	path := r.m.layout.Snapshot()
	if err := r.m.call(ctx, "write remote snapshot", func(ctx context.Context) error {
		return r.m.store.Write(ctx, path, data)
	}); err != nil {
		return err
	}
	r.logger.Debug("Wrote remote snapshot", "path", path, "sync_id", snap.Metadata.SyncID, "items", len(snap.Items))
	return nil
}

func (r *run) addExpired(ids []string) {
	for _, id := range ids {
		if !slices.Contains(r.expired, id) {
			r.expired = append(r.expired, id)
		}
	}
}

// markSyncing persists the Syncing phase so a crash mid-run is detected on the
// next start
func (m *defaultSyncManager) markSyncing(ctx context.Context, at time.Time) {
	if _, err := m.stateSvc.UpdateStatusAtomically(ctx, func(s *status.SyncStatus) bool {
		s.Phase = status.SyncPhaseSyncing
		s.Message = "Sync in progress"
		s.LastAttempt = &at
		return true
	}); err != nil {
		m.logger.Warn("Failed to persist syncing status", "error", err)
	}
}

// finish completes the result, persists the outcome and records metrics
func (m *defaultSyncManager) finish(ctx context.Context, r *run, err error) {
	res := r.res
	now := m.now()
	res.FinishedAt = now

	switch {
	case err != nil:
		res.fail(err)
	case res.NeedsConfirmation:
		res.Success = false
		res.Message = "Merge needs confirmation: " + strings.Join(res.MergeInfo.Reasons, "; ")
	default:
		res.Success = true
		res.Message = successMessage(res)
	}

	statusCtx := context.WithoutCancel(ctx)
	if _, uerr := m.stateSvc.UpdateStatusAtomically(statusCtx, func(s *status.SyncStatus) bool {
		m.applyOutcome(s, r, err, now)
		return true
	}); uerr != nil {
		r.logger.Error("Failed to persist sync status", "error", uerr)
	}

	if res.Success && len(r.expired) > 0 {
		if p, ok := m.local.(localstore.Purger); ok {
			if perr := p.PurgeTombstones(statusCtx, r.expired); perr != nil {
				r.logger.Warn("Failed to purge expired tombstones", "count", len(r.expired), "error", perr)
			} else {
				r.logger.Info("Purged expired tombstones", "count", len(r.expired))
			}
		}
	}

	m.recordMetrics(ctx, r)

	attrs := []any{
		"path", res.Path,
		"sync_id", res.SyncID,
		"duration", res.Duration(),
		"created", res.ItemsCreated,
		"updated", res.ItemsUpdated,
		"deleted", res.ItemsDeleted,
		"conflicts", res.ConflictsResolved,
	}
	switch {
	case res.Success:
		r.logger.Info("Sync completed", attrs...)
	case res.NeedsConfirmation:
		r.logger.Info("Sync stopped for confirmation", attrs...)
	default:
		r.logger.Error("Sync failed", append(attrs, "error", err, "code", syncerr.CodeOf(err))...)
	}
}

// applyOutcome updates the persisted status after a run
func (m *defaultSyncManager) applyOutcome(s *status.SyncStatus, r *run, err error, now time.Time) {
	res := r.res
	s.Message = res.Message
	s.LastResult = &status.ResultSummary{
		Success:           res.Success,
		Message:           res.Message,
		Trigger:           string(res.Trigger),
		Path:              string(res.Path),
		FinishedAt:        now,
		ItemsProcessed:    res.ItemsProcessed,
		ItemsCreated:      res.ItemsCreated,
		ItemsUpdated:      res.ItemsUpdated,
		ItemsDeleted:      res.ItemsDeleted,
		ConflictsResolved: res.ConflictsResolved,
		ErrorCodes:        res.ErrorCodes(),
	}

	switch {
	case res.Success:
		s.Phase = status.SyncPhaseComplete
		s.LastSyncTime = &now
		s.LastSyncID = r.synced.Metadata.SyncID
		s.LastSnapshotChecksum = r.synced.Metadata.Checksum
		s.ItemCount = len(r.synced.Items)
		s.ConsecutiveFailures = 0
		s.AutoSyncSuspended = false
		s.SuspendedReason = ""
		s.SuspendedConfigHash = ""
		if len(r.expired) > 0 || len(s.PurgedTombstones) > 0 {
			s.RecordPurged(r.expired, now, 2*m.retention)
		}

	case res.NeedsConfirmation:
		s.Phase = status.SyncPhaseAwaitingConfirmation

	default:
		s.Phase = status.SyncPhaseFailed
		// another device syncing is not a failure of this one
		if !lock.IsHeld(err) && !errors.Is(err, context.Canceled) {
			s.ConsecutiveFailures++
		}
		switch {
		case syncerr.Is(err, syncerr.CodeConfiguration):
			suspend(s, SuspendedConfiguration, m.configHash)
		case syncerr.Is(err, syncerr.CodePermission):
			suspend(s, SuspendedPermission, m.configHash)
		case s.ConsecutiveFailures >= MaxConsecutiveFailures:
			suspend(s, SuspendedTooManyFailures, "")
		}
	}
}

func suspend(s *status.SyncStatus, reason, configHash string) {
	s.AutoSyncSuspended = true
	s.SuspendedReason = reason
	s.SuspendedConfigHash = configHash
}

func (m *defaultSyncManager) recordMetrics(ctx context.Context, r *run) {
	res := r.res
	outcome := "failure"
	switch {
	case res.Success:
		outcome = "success"
	case res.NeedsConfirmation:
		outcome = "needs_confirmation"
	}
	m.metrics.RecordRun(ctx, string(res.Trigger), outcome, res.Duration())
	m.metrics.RecordItems(ctx, string(merge.ActionCreate), res.ItemsCreated)
	m.metrics.RecordItems(ctx, string(merge.ActionUpdate), res.ItemsUpdated)
	m.metrics.RecordItems(ctx, string(merge.ActionDelete), res.ItemsDeleted)
	m.metrics.RecordItems(ctx, string(merge.ActionUpload), res.ItemsUploaded)
	if r.merged != nil {
		for _, c := range r.merged.Conflicts {
			m.metrics.RecordConflict(ctx, string(c.Strategy))
		}
	}
}

func (m *defaultSyncManager) requestTimeoutOrDefault() time.Duration {
	if m.requestTimeout > 0 {
		return m.requestTimeout
	}
	return DefaultRequestTimeout
}

func successMessage(res *Result) string {
	if res.Path == PathInitialUpload {
		return fmt.Sprintf("Initial upload of %d items completed", res.ItemsCreated)
	}
	return fmt.Sprintf("Sync completed: %d created, %d updated, %d deleted, %d uploaded, %d conflicts resolved",
		res.ItemsCreated, res.ItemsUpdated, res.ItemsDeleted, res.ItemsUploaded, res.ConflictsResolved)
}

func recordSpanResult(span trace.Span, res *Result, err error) {
	span.SetAttributes(
		otel.AttrSyncPath.String(string(res.Path)),
		otel.AttrSyncID.String(res.SyncID),
		otel.AttrItemCount.Int(res.ItemsProcessed),
	)
	if err != nil {
		span.SetAttributes(otel.AttrErrorCode.String(string(syncerr.CodeOf(err))))
		otel.RecordError(span, err)
	}
}
