package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/promptsync/internal/status"
	pkgsync "github.com/stacklok/promptsync/internal/sync"
	"github.com/stacklok/promptsync/internal/syncerr"
)

// trigger starts an automatic run in the background unless one is in flight
// or the persisted status says automatic runs must wait.
func (c *defaultCoordinator) trigger(ctx context.Context, trigger pkgsync.Trigger) {
	if c.manager.InProgress() || !c.inflight.CompareAndSwap(false, true) {
		c.logger.Debug("Skipping automatic sync, a run is in flight", "trigger", trigger)
		return
	}

	st, err := c.stateSvc.GetSyncStatus(ctx)
	if err != nil {
		c.inflight.Store(false)
		c.logger.Error("Error reading sync status", "error", err)
		return
	}
	if reason := skipReason(c.settings, st, trigger, c.now()); reason != "" {
		c.inflight.Store(false)
		c.logger.Debug("Automatic sync skipped", "trigger", trigger, "reason", reason)
		return
	}

	// stopping the coordinator only prevents new runs, a started run finishes
	runCtx := context.WithoutCancel(ctx)
	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		defer c.inflight.Store(false)
		c.performSync(runCtx, trigger)
	}()
}

// skipReason decides whether an automatic run may start. An empty reason means
// it may.
func skipReason(settings Settings, st *status.SyncStatus, trigger pkgsync.Trigger, now time.Time) string {
	if !settings.AutoSync {
		return "automatic sync is disabled"
	}

	if st.AutoSyncSuspended || st.ConsecutiveFailures >= pkgsync.MaxConsecutiveFailures {
		configSuspension := st.SuspendedReason == pkgsync.SuspendedConfiguration ||
			st.SuspendedReason == pkgsync.SuspendedPermission
		if !configSuspension || st.SuspendedConfigHash == settings.ConfigHash {
			return fmt.Sprintf("automatic sync is suspended (%s)", st.SuspendedReason)
		}
		// the configuration changed since it was rejected: give it a chance
		return ""
	}

	if st.Phase == status.SyncPhaseAwaitingConfirmation {
		return "waiting for the user to confirm the merge"
	}

	// the network coming back is the likely fix, so it is not held back
	if trigger != pkgsync.TriggerOnline &&
		st.ConsecutiveFailures >= CooldownThreshold &&
		st.LastAttempt != nil && now.Sub(*st.LastAttempt) < CooldownPeriod {
		return fmt.Sprintf("cooling down after %d consecutive failures", st.ConsecutiveFailures)
	}
	return ""
}

// performSync executes one automatic run and escalates a new suspension
func (c *defaultCoordinator) performSync(ctx context.Context, trigger pkgsync.Trigger) {
	res := c.manager.Run(ctx, pkgsync.RunOptions{Trigger: trigger})

	switch {
	case res.Success:
		c.logger.Info("Automatic sync completed",
			"trigger", trigger,
			"duration", res.Duration(),
			"processed", res.ItemsProcessed)
	case res.NeedsConfirmation:
		c.logger.Info("Automatic sync paused until the merge is confirmed", "trigger", trigger)
	case hasCode(res, syncerr.CodeInProgress):
		c.logger.Debug("Automatic sync overlapped a manual run", "trigger", trigger)
		return
	default:
		c.logger.Warn("Automatic sync failed",
			"trigger", trigger,
			"error_codes", res.ErrorCodes(),
			"message", res.Message)
	}

	c.escalate(ctx)
}

// escalate sends one notice when automatic sync becomes suspended and re-arms
// once it is no longer suspended.
func (c *defaultCoordinator) escalate(ctx context.Context) {
	st, err := c.stateSvc.GetSyncStatus(ctx)
	if err != nil {
		c.logger.Error("Error reading sync status", "error", err)
		return
	}
	if !st.AutoSyncSuspended {
		c.notified.Store(false)
		return
	}
	if !c.notified.CompareAndSwap(false, true) {
		return
	}

	notice := Notice{
		Reason:              st.SuspendedReason,
		ConsecutiveFailures: st.ConsecutiveFailures,
		Message:             st.Message,
	}
	if st.LastResult != nil && len(st.LastResult.ErrorCodes) > 0 {
		notice.Remediation = syncerr.Remediation(syncerr.Code(st.LastResult.ErrorCodes[0]))
	}
	c.notifier.Notify(ctx, notice)
}

func hasCode(res *pkgsync.Result, code syncerr.Code) bool {
	for _, e := range res.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}
